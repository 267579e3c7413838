package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/poskernel/internal/wal"
)

func TestReplayTextGolden(t *testing.T) {
	path := buildSampleWAL(t)

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--wal", path})

	require.NoError(t, cmd.Execute())

	g := goldie.New(t)
	g.Assert(t, "replay_text", buf.Bytes())
}

func TestReplayJSON(t *testing.T) {
	path := buildSampleWAL(t)

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--wal", path})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string        `json:"status"`
		Data   ReplaySummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, uint64(7), resp.Data.LastSequence)
	assert.Equal(t, uint64(2), resp.Data.MaxHandle)
	assert.Equal(t, 1, resp.Data.Finished)
	require.Len(t, resp.Data.Active, 1)
	active := resp.Data.Active[0]
	assert.Equal(t, uint64(2), active.Handle)
	assert.Equal(t, "SGD", active.Currency)
	assert.Equal(t, int64(240), active.TotalMinor)
	assert.Equal(t, uint32(1), active.LineCount)
	assert.Empty(t, resp.Data.Parked)
}

func TestReplayEmptyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), wal.FileName)
	w, err := wal.Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--wal", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No live transactions.")
}

func TestReplayCorruptLog(t *testing.T) {
	path := buildSampleWAL(t)
	corruptFile(t, path)

	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--wal", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
