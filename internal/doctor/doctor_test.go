package doctor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/transformd/internal/config"
	"github.com/mattjoyce/transformd/internal/storage"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Tools = []config.ToolConf{{
		Name:  "poppler",
		Check: []string{"pdftoppm", "-v"},
		Templates: []config.TemplateConf{{
			Name:  "pdf-to-tiff",
			Match: "pdf:tiff?",
			Args:  []string{"pdftoppm", "-tiff", "-singlefile", "${source}", "${target}"},
		}},
	}}
	return cfg
}

func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.lookPath = func(exe string) (string, error) {
		if exe == "missing-binary" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + exe, nil
	}
	d.checkLocal = func(string) error { return nil }
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
}

func TestValidate_ServiceErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Service.DefaultTimeout = 0
	cfg.Service.LogLevel = "verbose"
	cfg.Service.LogFormat = "xml"

	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "service", "service.default_timeout")
	assertHasError(t, r, "service", "service.log_level")
	assertHasError(t, r, "service", "service.log_format")
}

func TestValidate_ImageMagick(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.ImageMagick = config.ImageMagickConfig{
		Enabled:             true,
		Exe:                 "missing-binary",
		Dyn:                 "${MAGICK_LIB_UNSET}",
		AcceptableExitCodes: "1,x",
	}

	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "imagemagick", "imagemagick.root")
	assertHasError(t, r, "imagemagick", "imagemagick.acceptable_exit_codes")
	assertHasWarning(t, r, "imagemagick", "imagemagick.dyn")
	assertHasWarning(t, r, "imagemagick", "imagemagick.exe")
}

func TestValidate_ToolErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Tools = append(cfg.Tools,
		config.ToolConf{Name: "poppler", Check: []string{"x"}, Templates: cfg.Tools[0].Templates},
		config.ToolConf{Name: "native", Check: []string{"x"}, Templates: cfg.Tools[0].Templates},
		config.ToolConf{Name: "broken", Templates: []config.TemplateConf{
			{Name: "bad-regex", Match: "pdf:(png", Args: []string{"x"}},
			{Name: "no-args", Match: "a:b"},
			{Name: "dup", Match: "c:d", Args: []string{"x"}},
			{Name: "dup", Match: "e:f", Args: []string{"x"}},
		}},
	)

	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "tools", "tools.poppler.name")
	assertHasError(t, r, "tools", "tools.native.name")
	assertHasError(t, r, "tools", "tools.broken.check")
	assertHasError(t, r, "templates", "tools.broken.templates.bad-regex")
	assertHasError(t, r, "templates", "tools.broken.templates.no-args")
	assertHasError(t, r, "templates", "tools.broken.templates.dup")
}

func TestValidate_ToolWarnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Tools[0].Check = []string{"missing-binary", "-v"}
	cfg.Tools[0].Env = map[string]string{"TESSDATA_PREFIX": "${TESSDATA_UNSET}"}
	cfg.Tools[0].Templates[0].Args = append(cfg.Tools[0].Templates[0].Args, "${POPPLER_FLAGS}")

	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("warnings must not invalidate, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "tools", "tools.poppler.check")
	assertHasWarning(t, r, "tools", "tools.poppler.env.TESSDATA_PREFIX")
	assertHasWarning(t, r, "templates", "tools.poppler.templates.pdf-to-tiff.args")
}

func TestValidate_Shadowing(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Tools[0].Templates = []config.TemplateConf{
		{Name: "html", Match: "html:txt", Args: []string{"lynx", "-dump", "${source}"}},
		{Name: "anything", Match: ".*", Args: []string{"convert", "${source}", "${target}"}},
		{Name: "never", Match: "pdf:tiff", Args: []string{"pdftoppm", "${source}", "${target}"}},
	}

	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "shadowing", "tools.poppler.templates.html")
	assertHasWarning(t, r, "shadowing", "tools.poppler.templates.never")

	cfg.Native.Enabled = false
	r = newDoctor(cfg).Validate()
	for _, w := range r.Warnings {
		if w.Field == "tools.poppler.templates.html" {
			t.Fatalf("unexpected native shadowing warning with native disabled: %v", w)
		}
	}
}

func TestValidate_APIAndHistory(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API = config.APIConfig{Enabled: true, Listen: "0.0.0.0:8080"}
	cfg.History = config.HistoryConfig{Enabled: true, Path: "/tmp/h.db"}

	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "api", "api.listen")
	assertHasWarning(t, r, "history", "history.retention")

	cfg.API.Listen = "nonsense"
	cfg.History.Retention = time.Hour
	cfg.History.PruneInterval = 0
	r = newDoctor(cfg).Validate()
	assertHasError(t, r, "api", "api.listen")
	assertHasError(t, r, "history", "history.prune_interval")
}

func TestValidate_HistoryOnNetworkFilesystem(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.History = config.HistoryConfig{Enabled: true, Path: "/mnt/share/h.db", Retention: time.Hour, PruneInterval: time.Minute}

	d := newDoctor(cfg)
	d.checkLocal = func(path string) error {
		return &storage.NetworkFilesystemError{Path: path, FSType: "nfs"}
	}
	r := d.Validate()
	assertHasError(t, r, "history", "history.path")

	d.checkLocal = func(string) error { return errors.New("statfs failed") }
	r = d.Validate()
	if !r.Valid {
		t.Fatalf("detection failures must not block validation, got %v", r.Errors)
	}
}

func TestValidate_NoEngines(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Native.Enabled = false

	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "engines", "")
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if out != "Configuration valid.\n" {
		t.Fatalf("unexpected output %q", out)
	}

	out = FormatHuman(&Result{
		Valid:    false,
		Errors:   []Issue{{Category: "tools", Field: "tools.x.check", Message: "a version query command is required"}},
		Warnings: []Issue{{Category: "engines", Message: "no engine"}},
	})
	for _, want := range []string{"Configuration invalid (1 error(s), 1 warning(s))", "ERROR [tools] tools.x.check:", "WARN  [engines] no engine"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true})
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Fatalf("unexpected json %s", out)
	}
}

func assertHasError(t *testing.T, r *Result, category, field string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && e.Field == field {
			return
		}
	}
	t.Fatalf("expected error category=%q field=%q, got %v", category, field, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, field string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && w.Field == field {
			return
		}
	}
	t.Fatalf("expected warning category=%q field=%q, got %v", category, field, r.Warnings)
}
