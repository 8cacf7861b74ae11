package transform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/transformd/internal/command"
	"github.com/mattjoyce/transformd/internal/config"
	"github.com/mattjoyce/transformd/internal/history"
	"github.com/mattjoyce/transformd/internal/native"
)

type fakeEngine struct {
	name     string
	pairs    map[string]bool
	outcome  command.Outcome
	err      error
	checkErr error
	got      []command.Request
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Supports(src, tgt string) bool {
	return f.pairs[command.SelectionKey(src, tgt)]
}

func (f *fakeEngine) Transform(_ context.Context, req command.Request) (command.Outcome, error) {
	f.got = append(f.got, req)
	return f.outcome, f.err
}

func (f *fakeEngine) CheckAvailable(context.Context) error { return f.checkErr }

type fakeRecorder struct {
	entries []history.Entry
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, e history.Entry) (history.Entry, error) {
	r.entries = append(r.entries, e)
	return e, r.err
}

func TestService_FirstSupportingEngineWins(t *testing.T) {
	first := &fakeEngine{name: "first", pairs: map[string]bool{"pdf:txt": true}, outcome: command.NativeOutcome("a", time.Millisecond, nil)}
	second := &fakeEngine{name: "second", pairs: map[string]bool{"pdf:txt": true, "png:jpg": true}, outcome: command.NativeOutcome("b", time.Millisecond, nil)}
	rec := &fakeRecorder{}
	svc := New([]Engine{first, second}, WithRecorder(rec))

	res, err := svc.Transform(context.Background(), Request{SourcePath: "/in/report.PDF", TargetPath: "/out/report.txt"})
	require.NoError(t, err)
	assert.Equal(t, "first", res.Engine)
	assert.NotEmpty(t, res.RequestID)
	require.Len(t, first.got, 1)
	assert.Equal(t, "pdf", first.got[0].SourceExtension)
	assert.Equal(t, "txt", first.got[0].TargetExtension)
	assert.Empty(t, second.got)

	res, err = svc.Transform(context.Background(), Request{ID: "fixed", SourcePath: "a.png", TargetPath: "b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Engine)
	assert.Equal(t, "fixed", res.RequestID)

	require.Len(t, rec.entries, 2)
	assert.Equal(t, "fixed", rec.entries[1].RequestID)
	assert.Equal(t, "second", rec.entries[1].Engine)
	assert.Equal(t, "png", rec.entries[1].SourceExtension)
}

func TestService_NoEngine(t *testing.T) {
	rec := &fakeRecorder{}
	svc := New([]Engine{&fakeEngine{name: "only", pairs: map[string]bool{"a:b": true}}}, WithRecorder(rec))

	_, err := svc.Transform(context.Background(), Request{SourcePath: "x.doc", TargetPath: "x.pdf"})
	assert.True(t, errors.Is(err, command.ErrNoMatchingTemplate))
	assert.False(t, svc.Supports("doc", "pdf"))
	assert.Empty(t, rec.entries, "rejected requests are not recorded")
}

func TestService_MissingPathIsInvalidConfiguration(t *testing.T) {
	rec := &fakeRecorder{}
	svc := New([]Engine{&fakeEngine{name: "any", pairs: map[string]bool{"txt:txt": true}}}, WithRecorder(rec))

	for _, req := range []Request{
		{TargetPath: "/tmp/x.txt"},
		{SourcePath: "/tmp/x.txt"},
	} {
		_, err := svc.Transform(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, command.ErrInvalidConfiguration), "got %v", err)
		var cfgErr *command.ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "request", cfgErr.Field)
	}
	assert.Empty(t, rec.entries)
}

func TestService_EngineErrorIsReturned(t *testing.T) {
	engine := &fakeEngine{name: "tool", pairs: map[string]bool{"a:b": true}, err: &command.MissingOptionError{Template: "t", Option: "page"}}
	svc := New([]Engine{engine})

	res, err := svc.Transform(context.Background(), Request{SourcePath: "in.a", TargetPath: "out.b"})
	assert.True(t, errors.Is(err, command.ErrMissingOption))
	assert.Equal(t, "tool", res.Engine)
}

func TestService_RecorderFailureDoesNotFailTransform(t *testing.T) {
	engine := &fakeEngine{name: "e", pairs: map[string]bool{"a:b": true}, outcome: command.NativeOutcome("t", 0, nil)}
	svc := New([]Engine{engine}, WithRecorder(&fakeRecorder{err: errors.New("disk full")}))

	res, err := svc.Transform(context.Background(), Request{SourcePath: "in.a", TargetPath: "out.b"})
	require.NoError(t, err)
	assert.True(t, res.Outcome.Succeeded())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		src     string
		tgt     string
		wantErr bool
	}{
		{name: "from paths", req: Request{SourcePath: "a.HTML", TargetPath: "b.txt"}, src: "html", tgt: "txt"},
		{name: "explicit wins", req: Request{SourcePath: "a.bin", TargetPath: "b.out", SourceExtension: ".PDF", TargetExtension: "png"}, src: "pdf", tgt: "png"},
		{name: "from mimetypes", req: Request{SourcePath: "upload", TargetPath: "render", SourceMimetype: "application/pdf", TargetMimetype: "image/jpeg"}, src: "pdf", tgt: "jpg"},
		{name: "unknown", req: Request{SourcePath: "upload", TargetPath: "render.png"}, wantErr: true},
		{name: "missing path", req: Request{SourcePath: "a.txt"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalize(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.src, got.SourceExtension)
			assert.Equal(t, tt.tgt, got.TargetExtension)
		})
	}

	got, err := normalize(Request{SourcePath: "a.pdf", TargetPath: "b.png", SourceMimetype: "application/pdf", Options: map[string]string{"page": "2"}})
	require.NoError(t, err)
	assert.Equal(t, command.Options{"page": "2", OptSourceMimetype: "application/pdf"}, got.Options)
}

func TestService_CheckAvailable(t *testing.T) {
	svc := New([]Engine{
		&fakeEngine{name: "ok"},
		&fakeEngine{name: "broken", checkErr: errors.New("broken: tool unavailable")},
	})

	got := svc.CheckAvailable(context.Background())
	require.Len(t, got, 2)
	assert.True(t, got[0].Available())
	assert.False(t, got[1].Available())
	assert.Equal(t, "broken: tool unavailable", got[1].Error)
}

func TestFromConfig_EngineOrder(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-tool")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncp \"$1\" \"$2\"\n"), 0o755))

	cfg := config.Defaults()
	cfg.ImageMagick = config.ImageMagickConfig{Enabled: true, Exe: script, Dyn: dir, Root: dir, Timeout: time.Second, ProbeTimeout: time.Second}
	cfg.Tools = []config.ToolConf{{
		Name:  "copier",
		Check: []string{script, "--version"},
		Templates: []config.TemplateConf{{
			Name: "copy", Match: "txt:txt|csv:csv", Args: []string{script, "${source}", "${target}"},
		}},
	}}

	svc, err := FromConfig(cfg, &command.Launcher{})
	require.NoError(t, err)

	assert.Equal(t, []string{native.EngineName, "copier", "imagemagick"}, svc.EngineNames())
	assert.Len(t, svc.Engines(), 3)

	src := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n"), 0o644))
	dst := filepath.Join(dir, "copy.csv")
	res, err := svc.Transform(context.Background(), Request{SourcePath: src, TargetPath: dst})
	require.NoError(t, err)
	assert.Equal(t, "copier", res.Engine)
	assert.True(t, res.Outcome.Succeeded(), res.Outcome.Stderr)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	res, err = svc.Transform(context.Background(), Request{SourcePath: src, TargetPath: filepath.Join(dir, "out.txt"), SourceExtension: "txt"})
	require.NoError(t, err)
	assert.Equal(t, native.EngineName, res.Engine, "native txt->txt precedes the declared tool")

	cfg.Native.Enabled = false
	cfg.ImageMagick.Enabled = false
	cfg.Tools = nil
	_, err = FromConfig(cfg, nil)
	assert.True(t, errors.Is(err, command.ErrInvalidConfiguration))
}
