package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/poskernel/internal/ledger"
	"github.com/tillworks/poskernel/internal/money"
	"github.com/tillworks/poskernel/internal/suspend"
)

func buildSuspendStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), suspend.FileName)
	st, err := suspend.Open(path)
	require.NoError(t, err)
	defer st.Close()

	currency, err := money.NewCurrency("SGD", 2)
	require.NoError(t, err)
	suspendedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	tx := ledger.New(7, "S1", currency, suspendedAt)
	_, err = tx.AddLine("KOPI_C", 1, 140, "op1", suspendedAt)
	require.NoError(t, err)
	tx.State = ledger.StateSuspended

	require.NoError(t, st.Park(context.Background(), suspend.Record{
		SuspendID:      "11111111-2222-3333-4444-555555555555",
		OriginalHandle: 7,
		TerminalID:     "term-1",
		OperatorID:     "op1",
		Reason:         "customer stepped away",
		Transaction:    tx,
		SuspendedAt:    suspendedAt,
		ExpiresAt:      suspendedAt.Add(24 * time.Hour),
	}))
	return path
}

func TestSuspendedListText(t *testing.T) {
	path := buildSuspendStore(t)

	buf := &bytes.Buffer{}
	cmd := NewSuspendedCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", path})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "11111111-2222-3333-4444-555555555555")
	assert.Contains(t, out, "handle 7")
	assert.Contains(t, out, "total 140 minor")
	assert.Contains(t, out, "1 suspended transaction(s)")
}

func TestSuspendedListJSON(t *testing.T) {
	path := buildSuspendStore(t)

	buf := &bytes.Buffer{}
	cmd := NewSuspendedCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", path})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string         `json:"status"`
		Data   []SuspendedRow `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	row := resp.Data[0]
	assert.Equal(t, uint64(7), row.OriginalHandle)
	assert.Equal(t, "term-1", row.TerminalID)
	assert.Equal(t, int64(140), row.TotalMinor)
	assert.Equal(t, "SGD", row.Currency)
	assert.True(t, row.Expired, "fixture expiry is in the past")
}

func TestSuspendedEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), suspend.FileName)
	st, err := suspend.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	buf := &bytes.Buffer{}
	cmd := NewSuspendedCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No suspended transactions.")
}

func TestSuspendedMissingStore(t *testing.T) {
	cmd := NewSuspendedCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "absent.db")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
