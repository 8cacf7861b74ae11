package config

import "time"

// Config represents the complete transformd configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	API         APIConfig         `yaml:"api,omitempty"`
	History     HistoryConfig     `yaml:"history"`
	ImageMagick ImageMagickConfig `yaml:"imagemagick"`
	Native      NativeConfig      `yaml:"native"`
	Tools       []ToolConf        `yaml:"tools,omitempty"`

	// Path is the absolute path the configuration was loaded from.
	Path string `yaml:"-"`
	// Fingerprint is the BLAKE3 hash of the raw configuration file.
	Fingerprint string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// WorkDir is the working directory of child processes. Empty inherits ours.
	WorkDir string `yaml:"work_dir,omitempty"`
	// DefaultTimeout applies to every template without a timeout of its own.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// APIConfig defines the operational HTTP server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// HistoryConfig defines the outcome ledger.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Retention is how long entries are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention,omitempty"`
	// PruneInterval is how often expired entries are deleted while serving.
	PruneInterval time.Duration `yaml:"prune_interval,omitempty"`
}

// ImageMagickConfig configures the built-in ImageMagick tool.
type ImageMagickConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exe is the path of the convert (or magick) executable.
	Exe string `yaml:"exe"`
	// Dyn is the dynamic library search path exported to the child.
	Dyn string `yaml:"dyn"`
	// Root is the installation root exported as MAGICK_HOME.
	Root         string        `yaml:"root"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	ProbeTimeout time.Duration `yaml:"probe_timeout,omitempty"`
	// AcceptableExitCodes overrides the preset list when set.
	AcceptableExitCodes string `yaml:"acceptable_exit_codes,omitempty"`
}

// NativeConfig toggles the library-backed converters.
type NativeConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ToolConf declares an external command-line tool.
type ToolConf struct {
	Name         string            `yaml:"name"`
	Check        []string          `yaml:"check"`
	Env          map[string]string `yaml:"env,omitempty"`
	Timeout      time.Duration     `yaml:"timeout,omitempty"`
	ProbeTimeout time.Duration     `yaml:"probe_timeout,omitempty"`
	Templates    []TemplateConf    `yaml:"templates"`
}

// TemplateConf declares one command template of a tool.
type TemplateConf struct {
	Name     string            `yaml:"name"`
	Match    string            `yaml:"match"` // e.g. "pdf:(png|jpe?g)"
	Args     []string          `yaml:"args"`
	Defaults map[string]string `yaml:"defaults,omitempty"`
	Required []string          `yaml:"required,omitempty"`
	// AcceptableExitCodes is a comma-separated list, e.g. "1,2,255".
	AcceptableExitCodes string        `yaml:"acceptable_exit_codes,omitempty"`
	Timeout             time.Duration `yaml:"timeout,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:           "transformd",
			LogLevel:       "info",
			LogFormat:      "json",
			DefaultTimeout: 2 * time.Minute,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		History: HistoryConfig{
			Enabled:       false,
			Path:          "./data/history.db",
			Retention:     30 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		ImageMagick: ImageMagickConfig{
			Enabled:      false,
			ProbeTimeout: 10 * time.Second,
		},
		Native: NativeConfig{
			Enabled: true,
		},
	}
}
