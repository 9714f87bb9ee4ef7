package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/fakeyudi/pocketcode/internal/transcript"
)

// ProjectFile is the per-directory override file name.
const ProjectFile = ".pocketcode.toml"

// Config holds all configurable pocketcode settings.
type Config struct {
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"` // TUI log destination; empty picks the XDG state dir
	DataDir  string `toml:"data_dir"` // project store directory; empty picks the XDG data dir

	// ProviderID and ModelID pin the chat model. When empty the server's
	// default is used.
	ProviderID string `toml:"provider_id"`
	ModelID    string `toml:"model_id"`

	DiffCollapsedLines int    `toml:"diff_collapsed_lines"`
	UntimedParts       string `toml:"untimed_parts"` // "first" | "last"

	ReconnectInitial time.Duration `toml:"reconnect_initial"`
	ReconnectMax     time.Duration `toml:"reconnect_max"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		LogLevel:           "info",
		DiffCollapsedLines: 20,
		UntimedParts:       "first",
		ReconnectInitial:   500 * time.Millisecond,
		ReconnectMax:       30 * time.Second,
	}
}

// GlobalPath returns $XDG_CONFIG_HOME/pocketcode/config.toml, falling back
// to ~/.config.
func GlobalPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "pocketcode", "config.toml"), nil
}

// LoadGlobal reads the global config file.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .pocketcode.toml in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectFile, false)
}

// loadFile reads and parses a TOML config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	for _, src := range []*Config{global, project} {
		if src == nil {
			continue
		}
		overlay(&result, src)
	}
	return result
}

func overlay(dst, src *Config) {
	setString(&dst.LogLevel, src.LogLevel)
	setString(&dst.LogFile, src.LogFile)
	setString(&dst.DataDir, src.DataDir)
	setString(&dst.ProviderID, src.ProviderID)
	setString(&dst.ModelID, src.ModelID)
	setString(&dst.UntimedParts, src.UntimedParts)
	if src.DiffCollapsedLines > 0 {
		dst.DiffCollapsedLines = src.DiffCollapsedLines
	}
	if src.ReconnectInitial > 0 {
		dst.ReconnectInitial = src.ReconnectInitial
	}
	if src.ReconnectMax > 0 {
		dst.ReconnectMax = src.ReconnectMax
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ApplyEnv overrides fields from POCKETCODE_* environment variables.
func (c *Config) ApplyEnv() {
	setString(&c.LogLevel, os.Getenv("POCKETCODE_LOG_LEVEL"))
	setString(&c.DataDir, os.Getenv("POCKETCODE_DATA_DIR"))
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := transcript.ParseUntimedPolicy(c.UntimedParts); err != nil {
		return fmt.Errorf("untimed_parts: %w", err)
	}
	if c.ReconnectMax < c.ReconnectInitial {
		return fmt.Errorf("reconnect_max (%s) is shorter than reconnect_initial (%s)", c.ReconnectMax, c.ReconnectInitial)
	}
	return nil
}

// UntimedPolicy returns the parsed untimed_parts setting, defaulting to
// first on bad input.
func (c Config) UntimedPolicy() transcript.UntimedPolicy {
	p, _ := transcript.ParseUntimedPolicy(c.UntimedParts)
	return p
}

// Load reads the global and project files, merges them and applies the
// environment.
func Load() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, err
	}
	project, err := LoadProject()
	if err != nil {
		return Config{}, err
	}
	cfg := Merge(global, project)
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
