// Package transform routes requests to engines: the native converters and
// the configured external tools.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/transformd/internal/command"
	"github.com/mattjoyce/transformd/internal/config"
	"github.com/mattjoyce/transformd/internal/history"
	"github.com/mattjoyce/transformd/internal/log"
	"github.com/mattjoyce/transformd/internal/native"
	"github.com/mattjoyce/transformd/internal/tool"
)

// Option names carrying the request mimetypes into templates.
const (
	OptSourceMimetype = "sourceMimetype"
	OptTargetMimetype = "targetMimetype"
)

// Engine converts files for the extension pairs it supports.
type Engine interface {
	Name() string
	Supports(sourceExt, targetExt string) bool
	Transform(ctx context.Context, req command.Request) (command.Outcome, error)
	CheckAvailable(ctx context.Context) error
}

// Recorder stores outcomes. *history.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) (history.Entry, error)
}

// Request is one transform request.
type Request struct {
	// ID correlates logs and history; a UUID is assigned when empty.
	ID              string
	SourcePath      string
	TargetPath      string
	SourceMimetype  string
	TargetMimetype  string
	SourceExtension string
	TargetExtension string
	Options         map[string]string
}

// Result is the outcome of a request and the engine that produced it.
type Result struct {
	RequestID string
	Engine    string
	Outcome   command.Outcome
}

// Availability is the probe result of one engine.
type Availability struct {
	Engine string `json:"engine"`
	Error  string `json:"error,omitempty"`
}

// Available reports whether the probe succeeded.
func (a Availability) Available() bool { return a.Error == "" }

// Service tries engines in order and uses the first that supports the
// request's extension pair. It holds no mutable state after construction.
type Service struct {
	engines  []Engine
	recorder Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder records every outcome.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// New creates a service over engines in selection order.
func New(engines []Engine, opts ...Option) *Service {
	s := &Service{engines: append([]Engine(nil), engines...)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConfig builds the engines enabled in cfg: native converters first,
// then declared tools, then ImageMagick.
func FromConfig(cfg *config.Config, launcher *command.Launcher, opts ...Option) (*Service, error) {
	var engines []Engine
	if cfg.Native.Enabled {
		engines = append(engines, native.Default())
	}
	tools, err := tool.FromConfig(cfg, launcher)
	if err != nil {
		return nil, err
	}
	for _, t := range tools {
		engines = append(engines, t)
	}
	if len(engines) == 0 {
		return nil, &command.ConfigError{Reason: "no transform engine is enabled"}
	}
	return New(engines, opts...), nil
}

// Engines returns the engines in selection order.
func (s *Service) Engines() []Engine { return append([]Engine(nil), s.engines...) }

// EngineNames returns the engine names in selection order.
func (s *Service) EngineNames() []string {
	names := make([]string, 0, len(s.engines))
	for _, e := range s.engines {
		names = append(names, e.Name())
	}
	return names
}

// Supports reports whether any engine handles the extension pair.
func (s *Service) Supports(sourceExt, targetExt string) bool {
	return s.pick(sourceExt, targetExt) != nil
}

func (s *Service) pick(sourceExt, targetExt string) Engine {
	for _, e := range s.engines {
		if e.Supports(sourceExt, targetExt) {
			return e
		}
	}
	return nil
}

// Transform runs req on the first engine supporting its extension pair.
// Requests that never reach a process (no engine, missing option) return an
// error; everything else is reported in Result.Outcome. There are no retries.
func (s *Service) Transform(ctx context.Context, req Request) (Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	logger := log.WithRequest(req.ID)

	creq, err := normalize(req)
	if err != nil {
		logger.Warn("transform rejected", "error", err)
		return Result{RequestID: req.ID}, err
	}

	engine := s.pick(creq.SourceExtension, creq.TargetExtension)
	if engine == nil {
		err := &command.NoMatchError{SourceExtension: creq.SourceExtension, TargetExtension: creq.TargetExtension}
		logger.Warn("transform rejected", "error", err)
		return Result{RequestID: req.ID}, err
	}

	logger = logger.With("engine", engine.Name())
	logger.Debug("transform started",
		"source_ext", creq.SourceExtension,
		"target_ext", creq.TargetExtension,
	)

	outcome, err := engine.Transform(ctx, creq)
	if err != nil {
		logger.Warn("transform rejected", "error", err)
		return Result{RequestID: req.ID, Engine: engine.Name()}, err
	}

	logOutcome(logger, outcome)
	if s.recorder != nil {
		entry := history.FromOutcome(req.ID, engine.Name(), creq, outcome)
		if _, err := s.recorder.Record(ctx, entry); err != nil {
			logger.Error("failed to record transform", "error", err)
		}
	}
	return Result{RequestID: req.ID, Engine: engine.Name(), Outcome: outcome}, nil
}

func logOutcome(logger *slog.Logger, o command.Outcome) {
	attrs := []any{
		"template", o.Template,
		"state", o.State,
		"verdict", o.Verdict,
		"exit_code", o.ExitCode,
		"duration_ms", o.Duration.Milliseconds(),
	}
	switch o.Verdict {
	case command.VerdictSuccess:
		logger.Info("transform completed", attrs...)
	case command.VerdictExpectedFailure:
		logger.Warn("transform completed with expected failure", append(attrs, "stderr", firstLine(o.Stderr))...)
	default:
		logger.Error("transform failed", append(attrs, "cause", o.Cause, "stderr", firstLine(o.Stderr))...)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// CheckAvailable probes every engine.
func (s *Service) CheckAvailable(ctx context.Context) []Availability {
	out := make([]Availability, 0, len(s.engines))
	for _, e := range s.engines {
		a := Availability{Engine: e.Name()}
		if err := e.CheckAvailable(ctx); err != nil {
			a.Error = err.Error()
			log.WithEngine(e.Name()).Warn("engine unavailable", "error", err)
		}
		out = append(out, a)
	}
	return out
}

// normalize fills missing extensions from the paths, then the mimetypes, and
// copies mimetypes into the options.
func normalize(req Request) (command.Request, error) {
	if req.SourcePath == "" || req.TargetPath == "" {
		return command.Request{}, &command.ConfigError{Field: "request", Reason: "source and target paths are required"}
	}
	src := resolveExtension(req.SourceExtension, req.SourcePath, req.SourceMimetype)
	tgt := resolveExtension(req.TargetExtension, req.TargetPath, req.TargetMimetype)
	if src == "" || tgt == "" {
		return command.Request{}, fmt.Errorf("cannot determine extensions for %q -> %q", req.SourcePath, req.TargetPath)
	}

	opts := make(command.Options, len(req.Options)+2)
	for k, v := range req.Options {
		opts[k] = v
	}
	if req.SourceMimetype != "" {
		opts[OptSourceMimetype] = req.SourceMimetype
	}
	if req.TargetMimetype != "" {
		opts[OptTargetMimetype] = req.TargetMimetype
	}

	return command.Request{
		SourcePath:      req.SourcePath,
		TargetPath:      req.TargetPath,
		SourceExtension: src,
		TargetExtension: tgt,
		Options:         opts,
	}, nil
}

func resolveExtension(explicit, path, mimetype string) string {
	if ext := command.NormalizeExtension(explicit); ext != "" {
		return ext
	}
	if ext := command.NormalizeExtension(filepath.Ext(path)); ext != "" {
		return ext
	}
	if mimetype == "" {
		return ""
	}
	if ext, ok := preferredExtensions[strings.ToLower(mimetype)]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimetype); err == nil && len(exts) > 0 {
		return command.NormalizeExtension(exts[0])
	}
	return ""
}

// preferredExtensions pins types for which the system mime table lists
// several extensions in no useful order.
var preferredExtensions = map[string]string{
	"text/plain":      "txt",
	"text/html":       "html",
	"application/pdf": "pdf",
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/tiff":      "tiff",
	"image/gif":       "gif",

	"application/vnd.apple.pages":   "pages",
	"application/vnd.apple.numbers": "numbers",
	"application/vnd.apple.keynote": "key",

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
}
