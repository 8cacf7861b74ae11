package command

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout applies when neither the invocation nor the launcher sets one.
	DefaultTimeout = 2 * time.Minute

	// drainGracePeriod bounds how long we wait for output pipes to close after
	// the process is gone. Background descendants can hold them open.
	drainGracePeriod = 2 * time.Second
)

// Invocation is a fully resolved process launch.
type Invocation struct {
	Args    []string
	Env     map[string]string
	Dir     string
	Timeout time.Duration
}

// Result is the raw outcome of one process execution.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Launcher starts child processes. The zero value is ready to use.
type Launcher struct {
	// DefaultTimeout is used when an invocation has no timeout of its own.
	DefaultTimeout time.Duration
	// Environ returns the inherited environment. Defaults to os.Environ.
	Environ func() []string
}

// Execute runs inv.Args[0] with inv.Args[1:] as arguments, without a shell,
// and blocks until the process exits or the timeout kills it. Output still
// held open by a descendant after the exit is read for drainGracePeriod at
// most.
//
// A non-zero exit is not an error here. Errors are *LaunchError when the
// process never started and *TimeoutError when it was killed; in the timeout
// case the output captured so far is still returned.
func (l *Launcher) Execute(inv Invocation) (Result, error) {
	if len(inv.Args) == 0 || strings.TrimSpace(inv.Args[0]) == "" {
		return Result{ExitCode: -1}, &LaunchError{Err: errors.New("empty argument vector")}
	}
	path := inv.Args[0]
	timeout := l.timeout(inv.Timeout)

	cmd := exec.Command(path, inv.Args[1:]...)
	cmd.Env = mergeEnv(l.environ(), inv.Env)
	cmd.Dir = inv.Dir
	setProcessGroup(cmd)

	// The child writes straight into pipes we own, so Wait returns when the
	// process exits even if a descendant still holds the write ends.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return Result{ExitCode: -1}, &LaunchError{Path: path, Err: err}
	}
	defer stdoutR.Close()
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutW.Close()
		return Result{ExitCode: -1}, &LaunchError{Path: path, Err: err}
	}
	defer stderrR.Close()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	start := time.Now()
	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		return Result{ExitCode: -1, Duration: time.Since(start)}, &LaunchError{Path: path, Err: err}
	}

	// Both streams are drained from the moment the process starts; a child
	// blocked on a full stderr pipe would otherwise never exit.
	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&stdout, stdoutR)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, stderrR)
		return err
	})
	drained := make(chan error, 1)
	go func() { drained <- g.Wait() }()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-exited:
	case <-timer.C:
		timedOut = true
		_ = killProcessGroup(cmd)
		waitErr = <-exited
	}

	complete, drainErr := finishDrain(drained, stdoutR, stderrR)
	res := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if timedOut {
		res.ExitCode = -1
		return res, &TimeoutError{Path: path, Timeout: timeout}
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, waitErr
	}
	if complete && drainErr != nil {
		return res, fmt.Errorf("capture output of %q: %w", path, drainErr)
	}
	return res, nil
}

// finishDrain waits up to drainGracePeriod for both streams to reach EOF once
// the process is gone. Past that, the read ends are closed and whatever was
// captured is kept; complete is false in that case.
func finishDrain(drained <-chan error, readers ...*os.File) (complete bool, err error) {
	grace := time.NewTimer(drainGracePeriod)
	defer grace.Stop()
	select {
	case err = <-drained:
		return true, err
	case <-grace.C:
		for _, r := range readers {
			_ = r.Close()
		}
		<-drained
		return false, nil
	}
}

func (l *Launcher) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	if l != nil && l.DefaultTimeout > 0 {
		return l.DefaultTimeout
	}
	return DefaultTimeout
}

func (l *Launcher) environ() []string {
	if l != nil && l.Environ != nil {
		return l.Environ()
	}
	return os.Environ()
}

// mergeEnv overlays overrides onto base. Overridden keys keep their position,
// duplicates of an overridden key are dropped, and new keys are appended in
// sorted order so the result is deterministic.
func mergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	applied := make(map[string]bool, len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		value, ok := overrides[key]
		if !ok {
			out = append(out, kv)
			continue
		}
		if applied[key] {
			continue
		}
		applied[key] = true
		out = append(out, key+"="+value)
	}
	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		if !applied[key] {
			out = append(out, key+"="+overrides[key])
		}
	}
	return out
}
