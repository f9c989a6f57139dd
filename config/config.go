// Package config provides configuration loading and command-line parsing.
//
// Layers, lowest to highest precedence: Default, the YAML file, environment
// variables, then command-line switches (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfig    = "CPROFCSV_CONFIG"
	EnvPython    = "CPROFCSV_PYTHON"
	EnvOutputDir = "CPROFCSV_OUTPUT_DIR"
	EnvLogLevel  = "CPROFCSV_LOG_LEVEL"
	EnvPprof     = "CPROFCSV_PPROF"
)

// Config holds the settings that are not tied to a single invocation.
type Config struct {
	// Python is the interpreter name or path.
	Python string `yaml:"python"`
	// OutputDir receives the artifacts. Empty means the working directory.
	OutputDir string `yaml:"output_dir"`
	// Extensions selects script files, e.g. [".py"].
	Extensions []string `yaml:"extensions"`
	// LogLevel is used when not running verbose (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// PrettyLog enables the human-readable console writer.
	PrettyLog bool `yaml:"pretty_log"`
	// Pprof writes a pprof companion next to every CSV.
	Pprof bool `yaml:"pprof"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Python:     "python3",
		Extensions: []string{".py"},
		LogLevel:   "warn",
		PrettyLog:  true,
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// $CPROFCSV_CONFIG when path is empty) and the environment. A missing file
// named only through the environment is not an error; an explicit path must
// exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		err := LoadFile(path, &cfg)
		if err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
			return cfg, err
		}
	}

	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.Extensions = normalizeExtensions(cfg.Extensions)
	return nil
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(EnvPython); v != "" {
		cfg.Python = v
	}
	if v := getenv(EnvOutputDir); v != "" {
		cfg.OutputDir = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getenv(EnvPprof); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", EnvPprof, v, err)
		}
		cfg.Pprof = b
	}
	return nil
}

// normalizeExtensions lower-cases entries and adds the leading dot.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
