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

// writeScript creates an executable shell script standing in for a tool.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestLauncher_ExitCodeAndStreams(t *testing.T) {
	script := writeScript(t, "tool.sh", `echo "out:$1"
echo "err:$2" >&2
exit 7
`)
	l := &Launcher{}

	res, err := l.Execute(Invocation{Args: []string{script, "a", "b"}, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "out:a\n", string(res.Stdout))
	assert.Equal(t, "err:b\n", string(res.Stderr))
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestLauncher_NoShellInterpretation(t *testing.T) {
	script := writeScript(t, "args.sh", `for a in "$@"; do echo "[$a]"; done
`)
	marker := filepath.Join(t.TempDir(), "pwned")

	res, err := (&Launcher{}).Execute(Invocation{
		Args:    []string{script, "a b", "; touch " + marker, "$(touch " + marker + ")", "*"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	lines := strings.Split(strings.TrimSpace(string(res.Stdout)), "\n")
	assert.Equal(t, []string{"[a b]", "[; touch " + marker + "]", "[$(touch " + marker + ")]", "[*]"}, lines)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "argument was interpreted by a shell")
}

func TestLauncher_CapturesLargeOutputOnBothStreams(t *testing.T) {
	// Well past the pipe buffer on both streams; sequential draining would deadlock.
	script := writeScript(t, "big.sh", `head -c 1048576 /dev/zero
head -c 524288 /dev/zero >&2
head -c 524288 /dev/zero
`)

	res, err := (&Launcher{}).Execute(Invocation{Args: []string{script}, Timeout: 30 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Len(t, res.Stdout, 1048576+524288)
	assert.Len(t, res.Stderr, 524288)
}

func TestLauncher_EnvOverridesInherited(t *testing.T) {
	script := writeScript(t, "env.sh", `echo "home=$MAGICK_HOME"
echo "lib=$LD_LIBRARY_PATH"
echo "keep=$KEEP_ME"
`)
	l := &Launcher{Environ: func() []string {
		return []string{"PATH=/usr/bin:/bin", "KEEP_ME=yes", "MAGICK_HOME=/old"}
	}}

	res, err := l.Execute(Invocation{
		Args:    []string{script},
		Env:     map[string]string{"MAGICK_HOME": "/opt/im", "LD_LIBRARY_PATH": "/opt/im/lib"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "home=/opt/im\nlib=/opt/im/lib\nkeep=yes\n", string(res.Stdout))
}

func TestMergeEnv(t *testing.T) {
	base := []string{"A=1", "B=2", "A=dup", "NOEQ"}
	got := mergeEnv(base, map[string]string{"A": "x", "Z": "26", "C": "3"})
	assert.Equal(t, []string{"A=x", "B=2", "NOEQ", "C=3", "Z=26"}, got)

	assert.Equal(t, []string{"A=1"}, mergeEnv([]string{"A=1"}, nil))
	assert.Equal(t, []string{"A=1", "B=2"}, base[:2], "base must not be modified")
}

func TestLauncher_TimeoutKillsProcess(t *testing.T) {
	script := writeScript(t, "slow.sh", `echo started
echo warming >&2
sleep 30
echo finished
`)

	start := time.Now()
	res, err := (&Launcher{}).Execute(Invocation{Args: []string{script}, Timeout: 300 * time.Millisecond})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 300*time.Millisecond, timeoutErr.Timeout)

	assert.Less(t, elapsed, 10*time.Second, "timeout must not wait for the process")
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "started\n", string(res.Stdout))
	assert.Equal(t, "warming\n", string(res.Stderr))
}

func TestLauncher_TimeoutKillsDescendants(t *testing.T) {
	// The background sleep inherits stdout; without a group kill the drain
	// would block until it exits.
	script := writeScript(t, "fork.sh", `sleep 30 &
sleep 30
`)

	start := time.Now()
	_, err := (&Launcher{}).Execute(Invocation{Args: []string{script}, Timeout: 200 * time.Millisecond})
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestLauncher_ExitWithBackgroundChildIsNotTimeout(t *testing.T) {
	// The background sleep keeps stdout open after the script exits.
	script := writeScript(t, "daemonize.sh", `echo done
sleep 5 &
exit 0
`)

	start := time.Now()
	res, err := (&Launcher{}).Execute(Invocation{Args: []string{script}, Timeout: 10 * time.Second})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "done\n", string(res.Stdout))
	assert.Less(t, elapsed, drainGracePeriod+2*time.Second, "run must end when the process exits")
}

func TestLauncher_DefaultTimeout(t *testing.T) {
	script := writeScript(t, "slow.sh", "sleep 30\n")

	l := &Launcher{DefaultTimeout: 200 * time.Millisecond}
	_, err := l.Execute(Invocation{Args: []string{script}})
	assert.True(t, errors.Is(err, ErrTimeout))

	assert.Equal(t, DefaultTimeout, (&Launcher{}).timeout(0))
	assert.Equal(t, time.Second, (&Launcher{DefaultTimeout: time.Minute}).timeout(time.Second))
}

func TestLauncher_LaunchFailures(t *testing.T) {
	notExec := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(notExec, []byte("not a program"), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{name: "empty argv", args: nil},
		{name: "blank executable", args: []string{""}},
		{name: "missing absolute path", args: []string{filepath.Join(t.TempDir(), "does-not-exist")}},
		{name: "missing on PATH", args: []string{"transformd-no-such-tool-xyz"}},
		{name: "not executable", args: []string{notExec}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			var err error
			require.NotPanics(t, func() {
				res, err = (&Launcher{}).Execute(Invocation{Args: tt.args, Timeout: time.Second})
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrLaunch), "got %v", err)
			var launchErr *LaunchError
			assert.True(t, errors.As(err, &launchErr))
			assert.Equal(t, -1, res.ExitCode)
		})
	}
}

func TestLauncher_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, "pwd.sh", "pwd\n")

	res, err := (&Launcher{}).Execute(Invocation{Args: []string{script}, Dir: dir, Timeout: 5 * time.Second})
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(string(res.Stdout)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
