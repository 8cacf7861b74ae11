// Package doctor validates transformd configuration and the tools it declares.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"

	"github.com/mattjoyce/transformd/internal/command"
	"github.com/mattjoyce/transformd/internal/config"
	"github.com/mattjoyce/transformd/internal/native"
	"github.com/mattjoyce/transformd/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration. Unlike config.Load it reports every
// problem instead of stopping at the first.
type Doctor struct {
	cfg        *config.Config
	lookPath   func(string) (string, error)
	checkLocal func(string) error
}

// New creates a Doctor for a parsed (not necessarily valid) config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, checkLocal: storage.CheckLocal}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateAPIConfig(r)
	d.validateHistoryConfig(r)
	d.validateEngines(r)
	d.validateImageMagick(r)
	d.validateTools(r)
	d.warnShadowedTemplates(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks required service fields.
func (d *Doctor) validateServiceConfig(r *Result) {
	svc := d.cfg.Service
	if svc.DefaultTimeout <= 0 {
		d.addError(r, "service", "service.default_timeout", "default_timeout must be positive")
	}
	switch svc.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		d.addError(r, "service", "service.log_level", fmt.Sprintf("unknown log level %q (debug, info, warn, error)", svc.LogLevel))
	}
	switch svc.LogFormat {
	case "json", "text":
	default:
		d.addError(r, "service", "service.log_format", fmt.Sprintf("unknown log format %q (json or text)", svc.LogFormat))
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	listen := strings.TrimSpace(d.cfg.API.Listen)
	if listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when the API is enabled")
		return
	}
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", listen, err))
		return
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.listen", "API listens beyond loopback and has no authentication")
	}
}

func (d *Doctor) validateHistoryConfig(r *Result) {
	h := d.cfg.History
	if !h.Enabled {
		return
	}
	if strings.TrimSpace(h.Path) == "" {
		d.addError(r, "history", "history.path", "history.path is required when history is enabled")
	} else if err := d.checkLocal(h.Path); errors.Is(err, storage.ErrNetworkFilesystem) {
		d.addError(r, "history", "history.path", err.Error())
	}
	switch {
	case h.Retention < 0:
		d.addError(r, "history", "history.retention", "retention must not be negative")
	case h.Retention == 0:
		d.addWarning(r, "history", "history.retention", "retention is zero; the ledger grows without bound")
	case h.PruneInterval <= 0:
		d.addError(r, "history", "history.prune_interval", "prune_interval must be positive when retention is set")
	}
}

func (d *Doctor) validateEngines(r *Result) {
	if !d.cfg.Native.Enabled && !d.cfg.ImageMagick.Enabled && len(d.cfg.Tools) == 0 {
		d.addError(r, "engines", "", "no transform engine is enabled")
	}
}

// validateImageMagick checks the built-in ImageMagick tool.
func (d *Doctor) validateImageMagick(r *Result) {
	im := d.cfg.ImageMagick
	if !im.Enabled {
		return
	}
	for _, f := range []struct{ field, value string }{
		{"exe", im.Exe}, {"dyn", im.Dyn}, {"root", im.Root},
	} {
		field := "imagemagick." + f.field
		if strings.TrimSpace(f.value) == "" {
			d.addError(r, "imagemagick", field, "required when imagemagick is enabled")
			continue
		}
		d.warnUnresolved(r, "imagemagick", field, f.value)
	}
	if _, err := command.ParseExitCodes(im.AcceptableExitCodes); err != nil {
		d.addError(r, "imagemagick", "imagemagick.acceptable_exit_codes", err.Error())
	}
	if im.Exe != "" && len(config.UnresolvedEnvVars(im.Exe)) == 0 {
		d.warnMissingExecutable(r, "imagemagick", "imagemagick.exe", im.Exe)
	}
}

// validateTools checks declared tools and compiles their templates.
func (d *Doctor) validateTools(r *Result) {
	seen := make(map[string]bool)
	for i, tc := range d.cfg.Tools {
		name := strings.TrimSpace(tc.Name)
		prefix := fmt.Sprintf("tools[%d]", i)
		if name != "" {
			prefix = "tools." + name
		}

		switch {
		case name == "":
			d.addError(r, "tools", prefix+".name", "tool name is required")
		case name == config.EngineImageMagick || name == config.EngineNative:
			d.addError(r, "tools", prefix+".name", fmt.Sprintf("%q is reserved for a built-in engine", name))
		case seen[name]:
			d.addError(r, "tools", prefix+".name", fmt.Sprintf("duplicate tool name %q", name))
		}
		seen[name] = true

		if len(tc.Check) == 0 {
			d.addError(r, "tools", prefix+".check", "a version query command is required")
		} else {
			for _, arg := range tc.Check {
				d.warnUnresolved(r, "tools", prefix+".check", arg)
			}
			d.warnMissingExecutable(r, "tools", prefix+".check", tc.Check[0])
		}
		for key, value := range tc.Env {
			d.warnUnresolved(r, "tools", prefix+".env."+key, value)
		}
		if len(tc.Templates) == 0 {
			d.addError(r, "tools", prefix+".templates", "at least one template is required")
		}

		names := make(map[string]bool)
		for j, tmpl := range tc.Templates {
			field := fmt.Sprintf("%s.templates[%d]", prefix, j)
			if tmpl.Name != "" {
				field = prefix + ".templates." + tmpl.Name
				if names[tmpl.Name] {
					d.addError(r, "templates", field, fmt.Sprintf("duplicate template name %q", tmpl.Name))
				}
				names[tmpl.Name] = true
			}
			d.validateTemplate(r, field, tc, tmpl)
		}
	}
}

func (d *Doctor) validateTemplate(r *Result, field string, tc config.ToolConf, tmpl config.TemplateConf) {
	codes, err := command.ParseExitCodes(tmpl.AcceptableExitCodes)
	if err != nil {
		d.addError(r, "templates", field+".acceptable_exit_codes", err.Error())
	}
	if _, err := command.NewTemplate(command.TemplateSpec{
		Name:                tmpl.Name,
		Match:               tmpl.Match,
		Args:                tmpl.Args,
		Env:                 tc.Env,
		Defaults:            tmpl.Defaults,
		Required:            tmpl.Required,
		AcceptableExitCodes: codes,
		Timeout:             tmpl.Timeout,
	}); err != nil {
		d.addError(r, "templates", field, err.Error())
		return
	}
	for _, arg := range tmpl.Args {
		d.warnUnresolved(r, "templates", field+".args", arg)
	}
	if len(tmpl.Args) > 0 && !strings.Contains(tmpl.Args[0], "${") {
		d.warnMissingExecutable(r, "templates", field+".args", tmpl.Args[0])
	}
}

// warnShadowedTemplates flags templates that can never be selected: those
// after a catch-all in the same tool, and pairs the native converters claim.
func (d *Doctor) warnShadowedTemplates(r *Result) {
	var nativePairs []string
	if d.cfg.Native.Enabled {
		nativePairs = native.Default().Pairs()
	}

	for _, tc := range d.cfg.Tools {
		catchAll := ""
		for _, tmpl := range tc.Templates {
			field := "tools." + tc.Name + ".templates." + tmpl.Name
			if catchAll != "" {
				d.addWarning(r, "shadowing", field,
					fmt.Sprintf("template follows catch-all template %q and is never selected", catchAll))
				continue
			}
			t, err := command.NewTemplate(command.TemplateSpec{Name: tmpl.Name, Match: tmpl.Match, Args: tmpl.Args})
			if err != nil {
				continue
			}
			var claimed []string
			for _, key := range nativePairs {
				if t.Matches(key) {
					claimed = append(claimed, key)
				}
			}
			if len(claimed) > 0 {
				d.addWarning(r, "shadowing", field,
					fmt.Sprintf("native converters take precedence for %s", strings.Join(claimed, ", ")))
			}
			if isCatchAll(tmpl.Match) {
				catchAll = tmpl.Name
			}
		}
	}
}

func isCatchAll(match string) bool {
	switch strings.TrimSpace(match) {
	case "", ".*", ".+", ".*:.*", ".+:.+":
		return true
	}
	return false
}

func (d *Doctor) warnUnresolved(r *Result, category, field, value string) {
	if names := config.UnresolvedEnvVars(value); len(names) > 0 {
		d.addWarning(r, category, field,
			fmt.Sprintf("references unset environment variable(s): %s", strings.Join(names, ", ")))
	}
}

func (d *Doctor) warnMissingExecutable(r *Result, category, field, exe string) {
	if strings.TrimSpace(exe) == "" {
		return
	}
	if _, err := d.lookPath(exe); err != nil {
		d.addWarning(r, category, field, fmt.Sprintf("executable %q not found", exe))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
