package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tillworks/poskernel/internal/wal"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	WALPath string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify write-ahead log integrity",
		Long: `Sequentially scan a write-ahead log, validating every record checksum and
the gap-free strictly increasing sequence invariant.

Exit codes:
  0 - Log is intact
  1 - Corruption detected (bad checksum, sequence gap, truncated record)
  2 - Command error (log not found, etc.)

Examples:
  poskernel verify --wal ./terminal-1/wal.log
  poskernel verify --wal ./terminal-1/wal.log --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.WALPath, "wal", "", "path to write-ahead log (required)")
	_ = cmd.MarkFlagRequired("wal")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.WALPath); err != nil {
		return WrapExitError(ExitCommandError, "log not found", err)
	}

	result, err := wal.Verify(opts.WALPath)
	if err != nil {
		if !errors.Is(err, wal.ErrCorrupt) {
			return WrapExitError(ExitCommandError, "verify failed", err)
		}
		if opts.Format == "json" {
			_ = writeJSON(cmd.OutOrStdout(), CLIResponse{
				Status: "error",
				Error:  &CLIError{Code: "E_CORRUPT", Message: "log corruption detected", Details: err.Error()},
			})
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ Corruption detected: %v\n", err)
		}
		return NewExitError(ExitFailure, "log corruption detected")
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Log intact: %d record(s), last sequence %d, %d bytes\n",
		result.Records, result.LastSequence, result.Bytes)
	return nil
}
