// Package config reads blockvm.toml, the optional settings file that the
// command finds by walking up from the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"blockvm/internal/osr"
	"blockvm/internal/trace"
)

// FileName is the name looked for in every parent directory.
const FileName = "blockvm.toml"

// Config is the decoded settings file.
type Config struct {
	VM    VMConfig    `toml:"vm"`
	OSR   OSRConfig   `toml:"osr"`
	Trace TraceConfig `toml:"trace"`
	Bench BenchConfig `toml:"bench"`

	// Path is the file the settings came from, empty for defaults.
	Path string `toml:"-"`
}

// VMConfig bounds single activations.
type VMConfig struct {
	MaxSteps uint64 `toml:"max_steps"`
}

// OSRConfig configures the tiering backend.
type OSRConfig struct {
	Enabled      bool   `toml:"enabled"`
	HotThreshold uint64 `toml:"hot_threshold"`
	OSRThreshold uint64 `toml:"osr_threshold"`
	QueueSize    int    `toml:"queue_size"`
	CompileDelay string `toml:"compile_delay"`
	Cache        bool   `toml:"cache"`
	CacheDir     string `toml:"cache_dir"`
}

// TraceConfig holds defaults for the --trace flags.
type TraceConfig struct {
	Level     string `toml:"level"`
	Mode      string `toml:"mode"`
	Output    string `toml:"output"`
	RingSize  int    `toml:"ring_size"`
	Heartbeat string `toml:"heartbeat"`
}

// BenchConfig holds defaults for the bench command.
type BenchConfig struct {
	Activations int `toml:"activations"`
	Parallel    int `toml:"parallel"`
}

// Default returns the settings used when no file is found.
func Default() Config {
	o := osr.DefaultConfig()
	return Config{
		OSR: OSRConfig{
			Enabled:      true,
			HotThreshold: o.HotThreshold,
			OSRThreshold: o.OSRThreshold,
			QueueSize:    o.QueueSize,
		},
		Trace: TraceConfig{
			Level:    "off",
			Mode:     "stream",
			RingSize: 4096,
		},
		Bench: BenchConfig{
			Activations: 64,
		},
	}
}

// Find walks up from startDir looking for FileName.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Discover loads the nearest settings file above startDir, or the defaults
// when there is none.
func Discover(startDir string) (Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Load reads path on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(names, ", "))
	}
	if meta.IsDefined("osr", "hot_threshold") && cfg.OSR.HotThreshold == 0 {
		return Config{}, fmt.Errorf("%s: [osr].hot_threshold must be positive", path)
	}
	if meta.IsDefined("osr", "queue_size") && cfg.OSR.QueueSize <= 0 {
		return Config{}, fmt.Errorf("%s: [osr].queue_size must be positive", path)
	}
	if meta.IsDefined("bench", "activations") && cfg.Bench.Activations <= 0 {
		return Config{}, fmt.Errorf("%s: [bench].activations must be positive", path)
	}
	if cfg.Bench.Parallel < 0 {
		return Config{}, fmt.Errorf("%s: [bench].parallel must not be negative", path)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.OSR.CacheDir != "" && !filepath.IsAbs(cfg.OSR.CacheDir) {
		cfg.OSR.CacheDir = filepath.Join(filepath.Dir(path), cfg.OSR.CacheDir)
	}
	cfg.Path = path
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		return fmt.Errorf("[trace].level: %w", err)
	}
	if _, err := trace.ParseMode(c.Trace.Mode); err != nil {
		return fmt.Errorf("[trace].mode: %w", err)
	}
	if _, err := parseDuration(c.Trace.Heartbeat); err != nil {
		return fmt.Errorf("[trace].heartbeat: %w", err)
	}
	if _, err := parseDuration(c.OSR.CompileDelay); err != nil {
		return fmt.Errorf("[osr].compile_delay: %w", err)
	}
	return nil
}

// Backend converts the [osr] section into backend settings.
func (c OSRConfig) Backend() (osr.Config, error) {
	delay, err := parseDuration(c.CompileDelay)
	if err != nil {
		return osr.Config{}, err
	}
	return osr.Config{
		HotThreshold: c.HotThreshold,
		OSRThreshold: c.OSRThreshold,
		QueueSize:    c.QueueSize,
		CompileDelay: delay,
	}, nil
}

// HeartbeatInterval returns the parsed [trace].heartbeat.
func (c TraceConfig) HeartbeatInterval() time.Duration {
	d, _ := parseDuration(c.Heartbeat)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
