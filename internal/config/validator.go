package config

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/transformd/internal/command"
)

// Reserved engine names that tools may not use.
const (
	EngineImageMagick = "imagemagick"
	EngineNative      = "native"
)

// validate performs structural validation on the configuration. Template
// compilation is left to the tool package, which reports typed errors.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be one of: json, text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.DefaultTimeout <= 0 {
		return fmt.Errorf("service.default_timeout must be positive")
	}

	if cfg.API.Enabled && strings.TrimSpace(cfg.API.Listen) == "" {
		return fmt.Errorf("api.listen is required when the api is enabled")
	}
	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if cfg.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative")
	}
	if cfg.History.Enabled && cfg.History.Retention > 0 && cfg.History.PruneInterval <= 0 {
		return fmt.Errorf("history.prune_interval must be positive when retention is set")
	}

	if cfg.ImageMagick.Enabled {
		im := cfg.ImageMagick
		for field, value := range map[string]string{"exe": im.Exe, "dyn": im.Dyn, "root": im.Root} {
			if names := UnresolvedEnvVars(value); len(names) > 0 {
				return fmt.Errorf("imagemagick.%s: environment variable ${%s} is not set", field, names[0])
			}
		}
		if _, err := command.ParseExitCodes(im.AcceptableExitCodes); err != nil {
			return fmt.Errorf("imagemagick.acceptable_exit_codes: %w", err)
		}
	}

	if !cfg.ImageMagick.Enabled && !cfg.Native.Enabled && len(cfg.Tools) == 0 {
		return fmt.Errorf("no engines configured: enable imagemagick, native or declare tools")
	}

	seen := make(map[string]bool, len(cfg.Tools))
	for i, tool := range cfg.Tools {
		name := strings.TrimSpace(tool.Name)
		if name == "" {
			return fmt.Errorf("tools[%d].name is required", i)
		}
		if name == EngineImageMagick || name == EngineNative {
			return fmt.Errorf("tool %q: name is reserved", name)
		}
		if seen[name] {
			return fmt.Errorf("tool %q: declared more than once", name)
		}
		seen[name] = true

		if len(tool.Check) == 0 {
			return fmt.Errorf("tool %q: check command is required", name)
		}
		if len(tool.Templates) == 0 {
			return fmt.Errorf("tool %q: at least one template is required", name)
		}
		for key, value := range tool.Env {
			if names := UnresolvedEnvVars(value); len(names) > 0 {
				return fmt.Errorf("tool %q: env.%s: environment variable ${%s} is not set", name, key, names[0])
			}
		}
		for j, tmpl := range tool.Templates {
			if strings.TrimSpace(tmpl.Name) == "" {
				return fmt.Errorf("tool %q: templates[%d].name is required", name, j)
			}
			if len(tmpl.Args) == 0 {
				return fmt.Errorf("tool %q: template %q: args are required", name, tmpl.Name)
			}
			if _, err := command.ParseExitCodes(tmpl.AcceptableExitCodes); err != nil {
				return fmt.Errorf("tool %q: template %q: acceptable_exit_codes: %w", name, tmpl.Name, err)
			}
		}
	}

	return nil
}
