package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tillworks/poskernel/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	ConfigPath string
}

// ValidatedConfig is the parsed configuration echoed back on success.
type ValidatedConfig struct {
	TerminalID        string `json:"terminal_id"`
	StoreID           string `json:"store_id"`
	DataDir           string `json:"data_dir"`
	InactivityTimeout string `json:"inactivity_timeout"`
	SuspendExpiry     string `json:"suspend_expiry"`
	SweepInterval     string `json:"sweep_interval"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a terminal configuration file",
		Long: `Parse a terminal configuration file and check it against the embedded
schema. On success the effective configuration, including defaults, is
echoed back.

Exit codes:
  0 - Configuration is valid
  1 - Configuration rejected by the schema
  2 - Command error (file not found, etc.)

Examples:
  poskernel validate --config ./terminal-1/terminal.yaml
  poskernel validate --config ./terminal-1/terminal.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to terminal configuration (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.ConfigPath); err != nil {
		return WrapExitError(ExitCommandError, "configuration not found", err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		if opts.Format == "json" {
			_ = writeJSON(cmd.OutOrStdout(), CLIResponse{
				Status: "error",
				Error:  &CLIError{Code: "E_CONFIG", Message: "configuration rejected", Details: err.Error()},
			})
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ Configuration rejected: %v\n", err)
		}
		return NewExitError(ExitFailure, "configuration rejected")
	}

	out := ValidatedConfig{
		TerminalID:        cfg.TerminalID,
		StoreID:           cfg.StoreID,
		DataDir:           cfg.DataDir,
		InactivityTimeout: cfg.InactivityTimeout.String(),
		SuspendExpiry:     cfg.SuspendExpiry.String(),
		SweepInterval:     cfg.SweepInterval.String(),
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: out})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Configuration valid\n")
	fmt.Fprintf(w, "  terminal %s  store %s\n", out.TerminalID, out.StoreID)
	fmt.Fprintf(w, "  data dir %s\n", out.DataDir)
	fmt.Fprintf(w, "  inactivity timeout %s  suspend expiry %s  sweep interval %s\n",
		out.InactivityTimeout, out.SuspendExpiry, out.SweepInterval)
	return nil
}
