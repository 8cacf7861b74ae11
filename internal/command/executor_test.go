package command

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConvert copies the source to the target and records its argv. It exits
// with $FAKE_EXIT when set.
const fakeConvert = `for last; do :; done
printf '%s\n' "$@" > "$last.argv"
cp "$1" "$last"
echo "converted"
echo "warning: $MAGICK_HOME" >&2
exit ${FAKE_EXIT:-0}
`

func newTestExecutor(t *testing.T, exitCode string) (*Executor, string) {
	t.Helper()
	script := writeScript(t, "convert", fakeConvert)
	tmpl, err := NewTemplate(TemplateSpec{
		Name:                "imagemagick",
		Match:               ".*",
		Args:                []string{script, "${source}", "SPLIT:${options}", "-strip", "-quiet", "${target}"},
		Env:                 map[string]string{"MAGICK_HOME": "/opt/im", "FAKE_EXIT": exitCode},
		Defaults:            map[string]string{"options": ""},
		AcceptableExitCodes: []int{1, 2, 255},
	})
	require.NoError(t, err)
	reg, err := NewRegistry(tmpl)
	require.NoError(t, err)
	return &Executor{Registry: reg, Timeout: 10 * time.Second}, script
}

func TestExecutor_RunSuccess(t *testing.T) {
	exec, script := newTestExecutor(t, "0")
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	dst := filepath.Join(dir, "b.jpg")
	require.NoError(t, os.WriteFile(src, []byte("PNGDATA"), 0o644))

	o, err := exec.Run(Request{
		SourcePath:      src,
		TargetPath:      dst,
		SourceExtension: "png",
		TargetExtension: "jpg",
		Options:         Options{"options": "-resize 50%", "target": "/ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, VerdictSuccess, o.Verdict)
	assert.Equal(t, StateCompleted, o.State)
	assert.Equal(t, "imagemagick", o.Template)
	assert.Equal(t, "converted\n", o.Stdout)
	assert.Equal(t, "warning: /opt/im\n", o.Stderr)

	wantArgv := []string{script, src, "-resize", "50%", "-strip", "-quiet", dst}
	assert.Equal(t, wantArgv, o.Argv())

	recorded, err := os.ReadFile(dst + ".argv")
	require.NoError(t, err)
	assert.Equal(t, strings.Join(wantArgv[1:], "\n")+"\n", string(recorded))

	out, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(out))
}

func TestExecutor_ExpectedAndFatalExit(t *testing.T) {
	for code, want := range map[string]Verdict{"2": VerdictExpectedFailure, "3": VerdictFatalFailure} {
		t.Run(code, func(t *testing.T) {
			exec, _ := newTestExecutor(t, code)
			dir := t.TempDir()
			src := filepath.Join(dir, "a.png")
			require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

			o, err := exec.Run(Request{SourcePath: src, TargetPath: filepath.Join(dir, "b.jpg"), SourceExtension: "png", TargetExtension: "jpg"})
			require.NoError(t, err)
			assert.Equal(t, want, o.Verdict)
			assert.Equal(t, CauseExit, o.Cause)
			assert.Contains(t, o.Stderr, "warning")
		})
	}
}

func TestExecutor_NoMatchingTemplate(t *testing.T) {
	tmpl, err := NewTemplate(TemplateSpec{Name: "png", Match: "png:jpg", Args: []string{"convert"}})
	require.NoError(t, err)
	reg, err := NewRegistry(tmpl)
	require.NoError(t, err)

	_, err = (&Executor{Registry: reg}).Run(Request{SourceExtension: "docx", TargetExtension: "pdf"})
	assert.True(t, errors.Is(err, ErrNoMatchingTemplate))
}

func TestExecutor_MissingOptionLaunchesNothing(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	script := writeScript(t, "tool", "touch "+marker+"\n")
	tmpl, err := NewTemplate(TemplateSpec{Name: "t", Args: []string{script, "${page}"}, Required: []string{"page"}})
	require.NoError(t, err)
	reg, err := NewRegistry(tmpl)
	require.NoError(t, err)

	_, err = (&Executor{Registry: reg}).Run(Request{SourceExtension: "pdf", TargetExtension: "png"})
	assert.True(t, errors.Is(err, ErrMissingOption))
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecutor_LaunchFailureIsOutcome(t *testing.T) {
	tmpl, err := NewTemplate(TemplateSpec{Name: "t", Args: []string{filepath.Join(t.TempDir(), "missing"), "${source}"}})
	require.NoError(t, err)
	reg, err := NewRegistry(tmpl)
	require.NoError(t, err)

	o, err := (&Executor{Registry: reg}).Run(Request{SourceExtension: "png", TargetExtension: "jpg"})
	require.NoError(t, err)
	assert.Equal(t, StateLaunchFailed, o.State)
	assert.Equal(t, VerdictFatalFailure, o.Verdict)
	assert.True(t, errors.Is(o.Err(), ErrLaunch))
}

func TestExecutor_TemplateTimeoutWins(t *testing.T) {
	script := writeScript(t, "slow", "sleep 30\n")
	tmpl, err := NewTemplate(TemplateSpec{Name: "t", Args: []string{script}, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	reg, err := NewRegistry(tmpl)
	require.NoError(t, err)

	o, err := (&Executor{Registry: reg, Timeout: time.Hour}).Run(Request{SourceExtension: "a", TargetExtension: "b"})
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, o.State)
	assert.Equal(t, CauseTimeout, o.Cause)
	assert.True(t, errors.Is(o.Err(), ErrTimeout))
}
