// Package config loads and validates per-terminal configuration.
//
// Configuration is a small YAML file in the terminal data directory. Before
// anything is parsed into Go values, the raw document is unified against an
// embedded CUE schema; validation failures carry file positions so a typo in
// a duration shows up as a startup error, not as a transaction that never
// times out.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/tillworks/poskernel/internal/suspend"
	"github.com/tillworks/poskernel/internal/wal"
)

//go:embed schema.cue
var schemaCUE string

// FileName is the terminal configuration file name.
const FileName = "terminal.yaml"

// Defaults applied when the file omits a field.
const (
	DefaultInactivityTimeout = 15 * time.Minute
	DefaultSuspendExpiry     = 24 * time.Hour
	DefaultSweepInterval     = 30 * time.Second
)

// Config is the validated terminal configuration.
type Config struct {
	TerminalID string
	StoreID    string
	DataDir    string

	// InactivityTimeout is how long a Building transaction may sit idle
	// before the sweep marks it TimedOut.
	InactivityTimeout time.Duration

	// SuspendExpiry is how long a parked transaction stays resumable.
	SuspendExpiry time.Duration

	// SweepInterval is the period of the background sweep loop.
	SweepInterval time.Duration
}

// rawConfig mirrors the YAML document; durations arrive as strings.
type rawConfig struct {
	TerminalID        string `yaml:"terminal_id"`
	StoreID           string `yaml:"store_id"`
	DataDir           string `yaml:"data_dir"`
	InactivityTimeout string `yaml:"inactivity_timeout"`
	SuspendExpiry     string `yaml:"suspend_expiry"`
	SweepInterval     string `yaml:"sweep_interval"`
}

// Default returns a configuration with default timings for hosts that embed
// the kernel without a config file.
func Default(terminalID, storeID, dataDir string) Config {
	return Config{
		TerminalID:        terminalID,
		StoreID:           storeID,
		DataDir:           dataDir,
		InactivityTimeout: DefaultInactivityTimeout,
		SuspendExpiry:     DefaultSuspendExpiry,
		SweepInterval:     DefaultSweepInterval,
	}
}

// Load reads, schema-validates, and parses the configuration at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates a YAML document against the embedded CUE schema and
// resolves defaults. The filename is used only for error positions.
func Parse(filename string, data []byte) (Config, error) {
	if err := validateSchema(filename, data); err != nil {
		return Config{}, err
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", filename, err)
	}

	cfg := Default(raw.TerminalID, raw.StoreID, raw.DataDir)

	var err error
	if cfg.InactivityTimeout, err = parseDuration(raw.InactivityTimeout, DefaultInactivityTimeout); err != nil {
		return Config{}, fmt.Errorf("parse config %s: inactivity_timeout: %w", filename, err)
	}
	if cfg.SuspendExpiry, err = parseDuration(raw.SuspendExpiry, DefaultSuspendExpiry); err != nil {
		return Config{}, fmt.Errorf("parse config %s: suspend_expiry: %w", filename, err)
	}
	if cfg.SweepInterval, err = parseDuration(raw.SweepInterval, DefaultSweepInterval); err != nil {
		return Config{}, fmt.Errorf("parse config %s: sweep_interval: %w", filename, err)
	}
	return cfg, nil
}

func validateSchema(filename string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("lookup config schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", filename, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("parse config %s: %w", filename, err)
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate config %s: %w", filename, err)
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %s must be positive", s)
	}
	return d, nil
}

// WALPath returns the write-ahead log location for this terminal.
func (c Config) WALPath() string {
	return filepath.Join(c.DataDir, wal.FileName)
}

// SuspendDBPath returns the suspend store location for this terminal.
func (c Config) SuspendDBPath() string {
	return filepath.Join(c.DataDir, suspend.FileName)
}
