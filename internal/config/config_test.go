package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FullDocument(t *testing.T) {
	doc := []byte(`
terminal_id: term-1
store_id: S1
data_dir: /var/lib/poskernel/term-1
inactivity_timeout: 10m
suspend_expiry: 4h
sweep_interval: 15s
`)

	cfg, err := Parse("terminal.yaml", doc)
	require.NoError(t, err)
	assert.Equal(t, "term-1", cfg.TerminalID)
	assert.Equal(t, "S1", cfg.StoreID)
	assert.Equal(t, "/var/lib/poskernel/term-1", cfg.DataDir)
	assert.Equal(t, 10*time.Minute, cfg.InactivityTimeout)
	assert.Equal(t, 4*time.Hour, cfg.SuspendExpiry)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
}

func TestParse_DefaultsApplied(t *testing.T) {
	doc := []byte(`
terminal_id: term-1
store_id: S1
data_dir: /tmp/pos
`)

	cfg, err := Parse("terminal.yaml", doc)
	require.NoError(t, err)
	assert.Equal(t, DefaultInactivityTimeout, cfg.InactivityTimeout)
	assert.Equal(t, DefaultSuspendExpiry, cfg.SuspendExpiry)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestParse_SchemaRejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing terminal_id", "store_id: S1\ndata_dir: /tmp/pos\n"},
		{"empty store_id", "terminal_id: t1\nstore_id: \"\"\ndata_dir: /tmp/pos\n"},
		{"bad terminal id characters", "terminal_id: \"till one\"\nstore_id: S1\ndata_dir: /tmp/pos\n"},
		{"bad duration", "terminal_id: t1\nstore_id: S1\ndata_dir: /tmp/pos\ninactivity_timeout: soon\n"},
		{"numeric duration", "terminal_id: t1\nstore_id: S1\ndata_dir: /tmp/pos\nsweep_interval: 30\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("terminal.yaml", []byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(
		"terminal_id: term-9\nstore_id: S9\ndata_dir: "+dir+"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "term-9", cfg.TerminalID)
	assert.Equal(t, filepath.Join(dir, "wal.log"), cfg.WALPath())
	assert.Equal(t, filepath.Join(dir, "suspend.db"), cfg.SuspendDBPath())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default("t1", "S1", "/tmp/pos")
	assert.Equal(t, DefaultInactivityTimeout, cfg.InactivityTimeout)
	assert.Equal(t, DefaultSuspendExpiry, cfg.SuspendExpiry)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}
