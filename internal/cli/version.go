package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tillworks/poskernel/internal/kernel"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kernel version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), CLIResponse{
					Status: "ok",
					Data:   map[string]string{"version": kernel.Version},
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), kernel.Version)
			return nil
		},
	}
}
