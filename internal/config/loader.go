package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFilename is the configuration file looked up by DiscoverConfigPath.
const DefaultFilename = "transformd.yaml"

// envVarPattern matches ${VAR} references. Only upper-case names are
// environment references; lower-case ones such as ${source} belong to
// command templates and are left alone.
var envVarPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// Load reads, parses and validates configuration from a file.
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read loads configuration from a file without validating it.
//
// A .env file next to the configuration is loaded first; variables already
// set in the process environment win. Checksums are verified when a
// .checksums manifest exists, then ${VAR} references are interpolated and
// defaults applied.
func Read(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	configDir := filepath.Dir(absPath)
	if err := loadDotEnv(configDir); err != nil {
		return nil, err
	}

	if err := verifyConfigHashes(configDir, absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = absPath
	return cfg, nil
}

// ResolvePath returns the absolute path of the configuration file. A
// directory resolves to the transformd.yaml inside it.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFilename)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", DefaultFilename, absPath)
		}
	}
	return absPath, nil
}

// Parse interpolates and decodes raw YAML onto the defaults. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.Fingerprint = Fingerprint(data)
	return applyConfigDefaults(cfg), nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $TRANSFORMD_CONFIG, ~/.config/transformd, /etc/transformd, ./transformd.yaml
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("TRANSFORMD_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "transformd", DefaultFilename)
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := filepath.Join("/etc/transformd", DefaultFilename)
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	if _, err := os.Stat(DefaultFilename); err == nil {
		return DefaultFilename, nil
	}

	return "", fmt.Errorf("no config found (checked: $TRANSFORMD_CONFIG, ~/.config/transformd, /etc/transformd, ./%s)", DefaultFilename)
}

// loadDotEnv loads configDir/.env when present without overriding variables
// that are already set.
func loadDotEnv(configDir string) error {
	envPath := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return nil
}

// applyConfigDefaults fills values that decoding onto Defaults cannot cover.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.DefaultTimeout == 0 {
		cfg.Service.DefaultTimeout = defaults.Service.DefaultTimeout
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.History.Path == "" {
		cfg.History.Path = defaults.History.Path
	}
	if cfg.ImageMagick.Timeout == 0 {
		cfg.ImageMagick.Timeout = cfg.Service.DefaultTimeout
	}
	if cfg.ImageMagick.ProbeTimeout == 0 {
		cfg.ImageMagick.ProbeTimeout = defaults.ImageMagick.ProbeTimeout
	}
	for i := range cfg.Tools {
		if cfg.Tools[i].Timeout == 0 {
			cfg.Tools[i].Timeout = cfg.Service.DefaultTimeout
		}
		if cfg.Tools[i].ProbeTimeout == 0 {
			cfg.Tools[i].ProbeTimeout = defaults.ImageMagick.ProbeTimeout
		}
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (doctor reports it)
		return match
	})
}

// UnresolvedEnvVars returns the names of ${VAR} references left in s.
func UnresolvedEnvVars(s string) []string {
	var names []string
	for _, m := range envVarPattern.FindAllStringSubmatch(s, -1) {
		names = append(names, m[1])
	}
	return names
}
