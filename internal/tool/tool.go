// Package tool turns tool definitions into transform engines. A tool is plain
// configuration: a set of command templates, a version query and an
// environment. The same executor runs every tool.
package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/transformd/internal/command"
	"github.com/mattjoyce/transformd/internal/config"
)

// Tool is an external program exposed as a transform engine.
type Tool struct {
	name     string
	executor *command.Executor
	probe    *command.Probe
}

// Name returns the engine name.
func (t *Tool) Name() string { return t.name }

// Supports reports whether a template accepts the extension pair.
func (t *Tool) Supports(sourceExt, targetExt string) bool {
	return t.executor.Registry.Supports(sourceExt, targetExt)
}

// Transform runs the request through the tool's executor. ctx is not used for
// cancellation; the template timeout bounds the call.
func (t *Tool) Transform(_ context.Context, req command.Request) (command.Outcome, error) {
	return t.executor.Run(req)
}

// CheckAvailable runs the tool's version query.
func (t *Tool) CheckAvailable(context.Context) error {
	if err := t.probe.CheckAvailable(); err != nil {
		return fmt.Errorf("%s: %w", t.name, err)
	}
	return nil
}

// Version returns the first line printed by the version query.
func (t *Tool) Version() (string, error) { return t.probe.Version() }

// Templates returns the tool's templates in selection order.
func (t *Tool) Templates() []*command.Template { return t.executor.Registry.Templates() }

// Options are the settings shared by every tool built from configuration.
type Options struct {
	// Dir is the working directory of child processes.
	Dir string
	// Launcher is shared by all tools; nil uses a default launcher.
	Launcher *command.Launcher
}

// New builds a tool declared in configuration.
func New(conf config.ToolConf, opts Options) (*Tool, error) {
	name := strings.TrimSpace(conf.Name)
	if name == "" {
		return nil, &command.ConfigError{Field: "name", Reason: "must not be empty"}
	}
	if len(conf.Templates) == 0 {
		return nil, &command.ConfigError{Field: name + ".templates", Reason: "at least one template is required"}
	}

	templates := make([]*command.Template, 0, len(conf.Templates))
	for _, tc := range conf.Templates {
		codes, err := command.ParseExitCodes(tc.AcceptableExitCodes)
		if err != nil {
			return nil, &command.ConfigError{Field: name + "." + tc.Name + ".acceptable_exit_codes", Reason: err.Error()}
		}
		tmpl, err := command.NewTemplate(command.TemplateSpec{
			Name:                tc.Name,
			Match:               tc.Match,
			Args:                tc.Args,
			Env:                 conf.Env,
			Defaults:            tc.Defaults,
			Required:            tc.Required,
			AcceptableExitCodes: codes,
			Timeout:             tc.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		templates = append(templates, tmpl)
	}

	return assemble(name, templates, conf.Check, conf.Env, conf.Timeout, conf.ProbeTimeout, opts)
}

// FromConfig builds every enabled tool in selection order: declared tools in
// file order, then ImageMagick, whose catch-all template would otherwise
// shadow them.
func FromConfig(cfg *config.Config, launcher *command.Launcher) ([]*Tool, error) {
	opts := Options{Dir: cfg.Service.WorkDir, Launcher: launcher}

	var tools []*Tool
	for _, conf := range cfg.Tools {
		t, err := New(conf, opts)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}

	if cfg.ImageMagick.Enabled {
		im := cfg.ImageMagick
		t, err := NewImageMagick(ImageMagickOptions{
			Exe:                 im.Exe,
			Dyn:                 im.Dyn,
			Root:                im.Root,
			Timeout:             im.Timeout,
			ProbeTimeout:        im.ProbeTimeout,
			AcceptableExitCodes: im.AcceptableExitCodes,
			Options:             opts,
		})
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func assemble(name string, templates []*command.Template, check []string, env map[string]string, timeout, probeTimeout time.Duration, opts Options) (*Tool, error) {
	registry, err := command.NewRegistry(templates...)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher = &command.Launcher{}
	}
	probe, err := command.NewProbe(check, env, probeTimeout, launcher)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}

	return &Tool{
		name: name,
		executor: &command.Executor{
			Registry: registry,
			Launcher: launcher,
			Dir:      opts.Dir,
			Timeout:  timeout,
		},
		probe: probe,
	}, nil
}
