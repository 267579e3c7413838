package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tillworks/poskernel/internal/kernel"
	"github.com/tillworks/poskernel/internal/ledger"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	WALPath string
}

// ReplayTransaction summarizes one transaction reconstructed from the log.
type ReplayTransaction struct {
	Handle        uint64 `json:"handle"`
	StoreID       string `json:"store_id"`
	Currency      string `json:"currency"`
	State         string `json:"state"`
	LineCount     uint32 `json:"line_count"`
	TotalMinor    int64  `json:"total_minor"`
	TenderedMinor int64  `json:"tendered_minor"`
}

// ReplaySummary is the overall replay result.
type ReplaySummary struct {
	Active       []ReplayTransaction `json:"active"`
	Parked       []ReplayTransaction `json:"parked"`
	Finished     int                 `json:"finished"`
	LastSequence uint64              `json:"last_sequence"`
	MaxHandle    uint64              `json:"max_handle"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the write-ahead log and report reconstructed state",
		Long: `Fold every log record through the same ledger logic the live kernel uses
and report the reconstructed state: transactions still building, parked
suspends, and finished transaction counts.

This is exactly the computation startup recovery performs, so its output is
what a kernel opening this log would adopt.

Examples:
  poskernel replay --wal ./terminal-1/wal.log
  poskernel replay --wal ./terminal-1/wal.log --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.WALPath, "wal", "", "path to write-ahead log (required)")
	_ = cmd.MarkFlagRequired("wal")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.WALPath); err != nil {
		return WrapExitError(ExitCommandError, "log not found", err)
	}

	state, err := kernel.Replay(opts.WALPath)
	if err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}

	summary := ReplaySummary{
		Active:       make([]ReplayTransaction, 0, len(state.Active)),
		Parked:       make([]ReplayTransaction, 0, len(state.Parked)),
		Finished:     state.Finished,
		LastSequence: state.LastSequence,
		MaxHandle:    state.MaxHandle,
	}
	for _, tx := range state.Active {
		summary.Active = append(summary.Active, summarize(tx.Handle, tx))
	}
	for _, tx := range state.Parked {
		summary.Parked = append(summary.Parked, summarize(tx.Handle, tx))
	}
	sort.Slice(summary.Active, func(i, j int) bool { return summary.Active[i].Handle < summary.Active[j].Handle })
	sort.Slice(summary.Parked, func(i, j int) bool { return summary.Parked[i].Handle < summary.Parked[j].Handle })

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: summary})
	}
	return outputReplayText(cmd, summary, opts.Verbose)
}

func summarize(handle uint64, tx *ledger.Transaction) ReplayTransaction {
	totals := tx.Totals()
	return ReplayTransaction{
		Handle:        handle,
		StoreID:       tx.StoreID,
		Currency:      tx.Currency.Code,
		State:         string(tx.State),
		LineCount:     tx.LineCount(),
		TotalMinor:    totals.TotalMinor,
		TenderedMinor: totals.TenderedMinor,
	}
}

func outputReplayText(cmd *cobra.Command, summary ReplaySummary, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay: last sequence %d, max handle %d, %d finished\n",
		summary.LastSequence, summary.MaxHandle, summary.Finished)

	if len(summary.Active) == 0 && len(summary.Parked) == 0 {
		fmt.Fprintln(w, "No live transactions.")
		return nil
	}

	if len(summary.Active) > 0 {
		fmt.Fprintf(w, "\nActive (%d):\n", len(summary.Active))
		for _, tx := range summary.Active {
			printReplayTransaction(w, tx, verbose)
		}
	}
	if len(summary.Parked) > 0 {
		fmt.Fprintf(w, "\nParked (%d):\n", len(summary.Parked))
		for _, tx := range summary.Parked {
			printReplayTransaction(w, tx, verbose)
		}
	}
	return nil
}

func printReplayTransaction(w io.Writer, tx ReplayTransaction, verbose bool) {
	fmt.Fprintf(w, "  handle %d  store %s  %s  %d line(s)  total %d minor\n",
		tx.Handle, tx.StoreID, tx.Currency, tx.LineCount, tx.TotalMinor)
	if verbose {
		fmt.Fprintf(w, "    state %s  tendered %d minor\n", tx.State, tx.TenderedMinor)
	}
}
