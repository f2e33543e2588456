// Package config loads the engine's YAML configuration: read file, parse
// with gopkg.in/yaml.v3, merge onto defaults, validate, falling back to
// defaults at every failure point with a logged warning rather than a
// fatal error.
//
// Merging onto defaults is a field-by-field check-the-zero-value-then-
// fall-back-to-default pass (see DESIGN.md for why a reflection-based
// generic merge library isn't used here) rather than a generic deep-merge
// over arbitrary struct shapes, since Config is a small, fully-enumerated
// set of scalar fields this package itself owns.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chunkwise/uploadengine/pkg/logging"
)

// Config is the engine's top-level tunable surface.
type Config struct {
	LogLevel string `yaml:"log"`

	ChunkSizeBytes int64  `yaml:"chunkSizeBytes"`
	SizeStrategy   string `yaml:"sizeStrategy"` // "fixed" | "adaptive"
	Concurrency    int    `yaml:"concurrency"`
	Sequential     bool   `yaml:"sequential"`
	MaxRetries     int    `yaml:"maxRetries"`

	BaseDelayMillis int  `yaml:"baseDelayMillis"`
	MaxDelayMillis  int  `yaml:"maxDelayMillis"`
	ExponentialBackoff bool `yaml:"exponentialBackoff"`

	ResumeStorePath    string `yaml:"resumeStorePath"`
	ResumeExpiryHours  int    `yaml:"resumeExpiryHours"`

	RequestTimeoutSeconds int `yaml:"requestTimeoutSeconds"`
	HungThresholdSeconds  int `yaml:"hungThresholdSeconds"`

	MinSuccessRate     float64 `yaml:"minSuccessRate"`
	MaxRetriesPerChunk int     `yaml:"maxRetriesPerChunk"`

	// FormData is attached verbatim to every chunk and merge request.
	FormData map[string]string `yaml:"formData"`
	// FileFieldName names the multipart part carrying chunk bytes; empty
	// falls back to "file".
	FileFieldName string `yaml:"fileFieldName"`
	// IndexBase is added to a chunk's 0-based index before it is sent on
	// the wire (servers expecting 1-based chunk numbers set this to 1).
	IndexBase int `yaml:"indexBase"`
}

// validLogLevels is the set of recognized zerolog level names.
var validLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}

// DefaultConfigPath returns the engine's default config location under the
// user's XDG config directory.
func DefaultConfigPath() string {
	confDir, err := os.UserConfigDir()
	if err != nil {
		logging.Error().Err(err).Msg("could not determine configuration directory")
	}
	return filepath.Join(confDir, "uploadengine/config.yml")
}

// Default returns the engine's documented default configuration.
func Default() Config {
	xdgCacheDir, _ := os.UserCacheDir()
	return Config{
		LogLevel:              "info",
		ChunkSizeBytes:        4 * 1024 * 1024,
		SizeStrategy:          "adaptive",
		Concurrency:           4,
		Sequential:            false,
		MaxRetries:            5,
		BaseDelayMillis:       1000,
		MaxDelayMillis:        30000,
		ExponentialBackoff:    true,
		ResumeStorePath:       filepath.Join(xdgCacheDir, "uploadengine", "resume.db"),
		ResumeExpiryHours:     24 * 7,
		RequestTimeoutSeconds: 60,
		HungThresholdSeconds:  30,
		MinSuccessRate:        0.25,
		MaxRetriesPerChunk:    5,
		FileFieldName:         "file",
	}
}

// Load reads and parses the YAML file at path, merges it onto Default(),
// and validates the result. Any failure along the way logs a warning and
// falls back to Default() rather than returning an error: a bad config
// file should never prevent the engine from starting.
func Load(path string) Config {
	defaults := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		logging.Warn().Str(logging.FieldID, path).Err(err).Msg("configuration file not found, using defaults")
		return defaults
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		logging.Error().Str(logging.FieldID, path).Err(err).Msg("could not parse configuration file, using defaults")
		return defaults
	}

	merged := mergeWithDefaults(parsed, defaults)
	validate(&merged)
	return merged
}

// mergeWithDefaults fills each zero-valued string, number and map field of
// cfg from defaults, field by field — see the package doc for why this
// replaces mergo. Sequential, ExponentialBackoff and IndexBase are not
// merged: they keep the parsed value (false or 0 when the file omits them).
func mergeWithDefaults(cfg, defaults Config) Config {
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.ChunkSizeBytes == 0 {
		cfg.ChunkSizeBytes = defaults.ChunkSizeBytes
	}
	if cfg.SizeStrategy == "" {
		cfg.SizeStrategy = defaults.SizeStrategy
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.BaseDelayMillis == 0 {
		cfg.BaseDelayMillis = defaults.BaseDelayMillis
	}
	if cfg.MaxDelayMillis == 0 {
		cfg.MaxDelayMillis = defaults.MaxDelayMillis
	}
	if cfg.ResumeStorePath == "" {
		cfg.ResumeStorePath = defaults.ResumeStorePath
	}
	if cfg.ResumeExpiryHours == 0 {
		cfg.ResumeExpiryHours = defaults.ResumeExpiryHours
	}
	if cfg.RequestTimeoutSeconds == 0 {
		cfg.RequestTimeoutSeconds = defaults.RequestTimeoutSeconds
	}
	if cfg.HungThresholdSeconds == 0 {
		cfg.HungThresholdSeconds = defaults.HungThresholdSeconds
	}
	if cfg.MinSuccessRate == 0 {
		cfg.MinSuccessRate = defaults.MinSuccessRate
	}
	if cfg.MaxRetriesPerChunk == 0 {
		cfg.MaxRetriesPerChunk = defaults.MaxRetriesPerChunk
	}
	if cfg.FileFieldName == "" {
		cfg.FileFieldName = defaults.FileFieldName
	}
	if cfg.FormData == nil {
		cfg.FormData = defaults.FormData
	}
	return cfg
}

// validate checks each field for a sane value, warning and resetting to
// the default rather than failing outright.
func validate(cfg *Config) {
	valid := false
	for _, level := range validLogLevels {
		if strings.ToLower(cfg.LogLevel) == level {
			valid = true
			break
		}
	}
	if !valid {
		logging.Warn().Str(logging.FieldStatus, cfg.LogLevel).Msg("invalid log level, using default")
		cfg.LogLevel = "info"
	}

	if cfg.ChunkSizeBytes <= 0 {
		logging.Warn().Msg("chunk size must be positive, using default")
		cfg.ChunkSizeBytes = Default().ChunkSizeBytes
	}

	if cfg.SizeStrategy != "fixed" && cfg.SizeStrategy != "adaptive" {
		logging.Warn().Str(logging.FieldStatus, cfg.SizeStrategy).Msg("invalid size strategy, using adaptive")
		cfg.SizeStrategy = "adaptive"
	}

	if cfg.Concurrency <= 0 {
		logging.Warn().Msg("concurrency must be positive, using default")
		cfg.Concurrency = Default().Concurrency
	}

	if cfg.MaxRetries < 0 {
		logging.Warn().Msg("max retries must be non-negative, using default")
		cfg.MaxRetries = Default().MaxRetries
	}

	if cfg.MinSuccessRate < 0 || cfg.MinSuccessRate > 1 {
		logging.Warn().Msg("min success rate must be in [0,1], using default")
		cfg.MinSuccessRate = Default().MinSuccessRate
	}
}

// Write serializes c as YAML to path.
func Write(c Config, path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0600)
}
