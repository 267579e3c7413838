package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tillworks/poskernel/internal/wal"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	WALPath string
	Handle  uint64 // 0 = all handles
	Limit   int    // 0 = no limit
}

// InspectRecord is one dumped log record.
type InspectRecord struct {
	Sequence       uint64          `json:"sequence"`
	Op             string          `json:"op"`
	Handle         uint64          `json:"handle"`
	TimestampNanos int64           `json:"timestamp_nanos"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Dump write-ahead log records",
		Long: `Print every record of a write-ahead log in sequence order: sequence
number, operation, transaction handle, and the operation payload.

Examples:
  poskernel inspect --wal ./terminal-1/wal.log
  poskernel inspect --wal ./terminal-1/wal.log --handle 3
  poskernel inspect --wal ./terminal-1/wal.log --limit 20 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.WALPath, "wal", "", "path to write-ahead log (required)")
	_ = cmd.MarkFlagRequired("wal")
	cmd.Flags().Uint64Var(&opts.Handle, "handle", 0, "show only records for this transaction handle")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many records (0 = all)")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.WALPath); err != nil {
		return WrapExitError(ExitCommandError, "log not found", err)
	}

	var records []InspectRecord
	err := wal.Read(opts.WALPath, func(rec wal.Record) error {
		if opts.Handle != 0 && rec.Handle != opts.Handle {
			return nil
		}
		if opts.Limit > 0 && len(records) >= opts.Limit {
			return nil
		}
		out := InspectRecord{
			Sequence:       rec.Sequence,
			Op:             rec.Op.String(),
			Handle:         rec.Handle,
			TimestampNanos: rec.TimestampNanos,
		}
		if len(rec.Payload) > 0 {
			out.Payload = json.RawMessage(append([]byte(nil), rec.Payload...))
		}
		records = append(records, out)
		return nil
	})
	if err != nil {
		return WrapExitError(ExitFailure, "log read failed", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: records})
	}

	w := cmd.OutOrStdout()
	for _, rec := range records {
		fmt.Fprintf(w, "seq %-6d %-17s handle %d", rec.Sequence, rec.Op, rec.Handle)
		if opts.Verbose {
			fmt.Fprintf(w, "  %s", time.Unix(0, rec.TimestampNanos).UTC().Format(time.RFC3339Nano))
		}
		if len(rec.Payload) > 0 {
			fmt.Fprintf(w, "  %s", rec.Payload)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d record(s)\n", len(records))
	return nil
}
