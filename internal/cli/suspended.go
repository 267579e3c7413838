package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tillworks/poskernel/internal/suspend"
)

// SuspendedOptions holds flags for the suspended command.
type SuspendedOptions struct {
	*RootOptions
	Database string
}

// SuspendedRow is one parked transaction in the listing.
type SuspendedRow struct {
	SuspendID      string `json:"suspend_id"`
	OriginalHandle uint64 `json:"original_handle"`
	TerminalID     string `json:"terminal_id"`
	OperatorID     string `json:"operator_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
	LineCount      uint32 `json:"line_count"`
	TotalMinor     int64  `json:"total_minor"`
	Currency       string `json:"currency"`
	SuspendedAt    string `json:"suspended_at"`
	ExpiresAt      string `json:"expires_at"`
	Expired        bool   `json:"expired"`
}

// NewSuspendedCommand creates the suspended command.
func NewSuspendedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SuspendedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "suspended",
		Short: "List parked transactions in a suspend store",
		Long: `List every suspended transaction in a terminal's suspend store, oldest
first, with its snapshot totals and expiry.

Examples:
  poskernel suspended --db ./terminal-1/suspend.db
  poskernel suspended --db ./terminal-1/suspend.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuspended(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to suspend store (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSuspended(opts *SuspendedOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "suspend store not found", err)
	}

	st, err := suspend.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open suspend store", err)
	}
	defer st.Close()

	records, err := st.List(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list suspended transactions", err)
	}

	now := time.Now().UTC()
	rows := make([]SuspendedRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, SuspendedRow{
			SuspendID:      rec.SuspendID,
			OriginalHandle: rec.OriginalHandle,
			TerminalID:     rec.TerminalID,
			OperatorID:     rec.OperatorID,
			Reason:         rec.Reason,
			LineCount:      rec.Transaction.LineCount(),
			TotalMinor:     rec.Transaction.Totals().TotalMinor,
			Currency:       rec.Transaction.Currency.Code,
			SuspendedAt:    rec.SuspendedAt.UTC().Format(time.RFC3339),
			ExpiresAt:      rec.ExpiresAt.UTC().Format(time.RFC3339),
			Expired:        !now.Before(rec.ExpiresAt),
		})
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: rows})
	}

	w := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(w, "No suspended transactions.")
		return nil
	}
	for _, row := range rows {
		marker := " "
		if row.Expired {
			marker = "!"
		}
		fmt.Fprintf(w, "%s %s  handle %d  %s  %d line(s)  total %d minor  expires %s\n",
			marker, row.SuspendID, row.OriginalHandle, row.Currency,
			row.LineCount, row.TotalMinor, row.ExpiresAt)
		if opts.Verbose {
			fmt.Fprintf(w, "    terminal %s  operator %q  reason %q  suspended %s\n",
				row.TerminalID, row.OperatorID, row.Reason, row.SuspendedAt)
		}
	}
	fmt.Fprintf(w, "%d suspended transaction(s)\n", len(rows))
	return nil
}
