// Package native holds the in-process converters: transforms that a parsing
// library can do without a child process. The registry is a transform engine
// like the external tools, and reports through the same command.Outcome.
package native

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/transformd/internal/command"
)

// EngineName is the engine name of the native converter set.
const EngineName = "native"

// Converter writes dst from src.
type Converter interface {
	Convert(ctx context.Context, src, dst string, opts command.Options) error
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, src, dst string, opts command.Options) error

// Convert calls f.
func (f ConverterFunc) Convert(ctx context.Context, src, dst string, opts command.Options) error {
	return f(ctx, src, dst, opts)
}

type entry struct {
	name      string
	source    string
	target    string
	converter Converter
}

// Registry maps extension pairs to converters. It is read-only after setup.
type Registry struct {
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Default returns a registry with every built-in converter.
func Default() *Registry {
	r := NewRegistry()
	for _, ext := range []string{"html", "htm", "xhtml"} {
		r.mustRegister("html-to-text", ext, "txt", ConverterFunc(HTMLToText))
	}
	r.mustRegister("text-to-pdf", "txt", "pdf", ConverterFunc(TextToPDF))
	r.mustRegister("text-to-text", "txt", "txt", ConverterFunc(TextToText))
	r.mustRegister("pdf-to-text", "pdf", "txt", ConverterFunc(PDFToText))
	r.mustRegister("pdf-to-png", "pdf", "png", ConverterFunc(PDFToPNG))
	for _, ext := range []string{"jpg", "jpeg"} {
		r.mustRegister("pdf-to-jpeg", "pdf", ext, ConverterFunc(PDFToJPEG))
		for _, src := range previewSources {
			r.mustRegister("preview-to-jpeg", src, ext, ConverterFunc(PreviewToJPEG))
		}
	}
	return r
}

// Register adds a converter for sourceExt -> targetExt. A pair can only be
// registered once.
func (r *Registry) Register(name, sourceExt, targetExt string, c Converter) error {
	if name == "" || c == nil {
		return &command.ConfigError{Field: "native", Reason: "converter needs a name and an implementation"}
	}
	src, tgt := command.NormalizeExtension(sourceExt), command.NormalizeExtension(targetExt)
	if src == "" || tgt == "" {
		return &command.ConfigError{Field: "native." + name, Reason: "extensions must not be empty"}
	}
	if _, ok := r.lookup(src, tgt); ok {
		return &command.ConfigError{Field: "native." + name, Reason: fmt.Sprintf("%s -> %s already registered", src, tgt)}
	}
	r.entries = append(r.entries, entry{name: name, source: src, target: tgt, converter: c})
	return nil
}

func (r *Registry) mustRegister(name, sourceExt, targetExt string, c Converter) {
	if err := r.Register(name, sourceExt, targetExt, c); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(sourceExt, targetExt string) (entry, bool) {
	src, tgt := command.NormalizeExtension(sourceExt), command.NormalizeExtension(targetExt)
	for _, e := range r.entries {
		if e.source == src && e.target == tgt {
			return e, true
		}
	}
	return entry{}, false
}

// Name returns the engine name.
func (r *Registry) Name() string { return EngineName }

// Supports reports whether a converter handles the extension pair.
func (r *Registry) Supports(sourceExt, targetExt string) bool {
	_, ok := r.lookup(sourceExt, targetExt)
	return ok
}

// Pairs lists the registered pairs as selection keys, in registration order.
func (r *Registry) Pairs() []string {
	keys := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		keys = append(keys, command.SelectionKey(e.source, e.target))
	}
	return keys
}

// Transform runs the converter for the request's extension pair. Unsupported
// pairs fail with a *command.NoMatchError; conversion errors become a fatal
// Outcome carrying the error text.
func (r *Registry) Transform(ctx context.Context, req command.Request) (command.Outcome, error) {
	e, ok := r.lookup(req.SourceExtension, req.TargetExtension)
	if !ok {
		return command.Outcome{}, &command.NoMatchError{
			SourceExtension: command.NormalizeExtension(req.SourceExtension),
			TargetExtension: command.NormalizeExtension(req.TargetExtension),
		}
	}

	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = safeConvert(ctx, e.converter, req.SourcePath, req.TargetPath, req.Options)
	}
	return command.NativeOutcome(e.name, time.Since(start), err), nil
}

// CheckAvailable always succeeds: converters are linked in.
func (r *Registry) CheckAvailable(context.Context) error { return nil }

// safeConvert turns a panic inside a parsing library into an error.
func safeConvert(ctx context.Context, c Converter, src, dst string, opts command.Options) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("converter panic: %v", p)
		}
	}()
	return c.Convert(ctx, src, dst, opts)
}
