package command

import (
	"errors"
	"time"
)

// State is the lifecycle position of one execution.
type State string

const (
	StatePending      State = "pending"
	StateLaunched     State = "launched"
	StateCompleted    State = "completed"
	StateTimedOut     State = "timed_out"
	StateLaunchFailed State = "launch_failed"
)

// Verdict is the classified result of a terminal execution.
type Verdict string

const (
	VerdictSuccess         Verdict = "success"
	VerdictExpectedFailure Verdict = "expected_failure"
	VerdictFatalFailure    Verdict = "fatal_failure"
)

// Cause explains a non-success verdict.
type Cause string

const (
	CauseNone    Cause = ""
	CauseExit    Cause = "exit"
	CauseLaunch  Cause = "launch"
	CauseTimeout Cause = "timeout"
	CauseCapture Cause = "capture"
)

// Outcome is the immutable, classified result of one execution. It is passed
// by value and every field is a value type.
type Outcome struct {
	Template string
	State    State
	Verdict  Verdict
	Cause    Cause
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration

	argv []string
	err  error
}

// Classify turns a launcher result into an Outcome. It depends only on err,
// the exit code and the template's acceptable exit codes.
func Classify(t *Template, res Result, err error) Outcome {
	o := Outcome{
		ExitCode: res.ExitCode,
		Stdout:   string(res.Stdout),
		Stderr:   string(res.Stderr),
		Duration: res.Duration,
	}
	if t != nil {
		o.Template = t.name
	}

	var launchErr *LaunchError
	var timeoutErr *TimeoutError
	switch {
	case errors.As(err, &launchErr):
		o.State, o.Verdict, o.Cause, o.err = StateLaunchFailed, VerdictFatalFailure, CauseLaunch, err
	case errors.As(err, &timeoutErr):
		o.State, o.Verdict, o.Cause, o.err = StateTimedOut, VerdictFatalFailure, CauseTimeout, err
	case err != nil:
		o.State, o.Verdict, o.Cause, o.err = StateCompleted, VerdictFatalFailure, CauseCapture, err
	case res.ExitCode == 0:
		o.State, o.Verdict = StateCompleted, VerdictSuccess
	default:
		expected := t != nil && t.AcceptsExitCode(res.ExitCode)
		o.State, o.Cause = StateCompleted, CauseExit
		o.Verdict = VerdictFatalFailure
		if expected {
			o.Verdict = VerdictExpectedFailure
		}
		o.err = &ExitError{Template: o.Template, Code: res.ExitCode, Stderr: o.Stderr, Expected: expected}
	}
	return o
}

// Err returns nil on success, otherwise a typed error describing the failure.
// Use errors.Is with ErrExpectedFailure, ErrFatalFailure, ErrLaunch or ErrTimeout.
func (o Outcome) Err() error { return o.err }

// Argv returns a copy of the argument vector that was executed.
func (o Outcome) Argv() []string { return append([]string(nil), o.argv...) }

// Succeeded reports a clean exit.
func (o Outcome) Succeeded() bool { return o.Verdict == VerdictSuccess }

// ProducedOutput reports whether the caller should look for a target file:
// true for success and for expected failures.
func (o Outcome) ProducedOutput() bool {
	return o.Verdict == VerdictSuccess || o.Verdict == VerdictExpectedFailure
}

// WithArgv returns a copy of o recording the executed argument vector.
func (o Outcome) WithArgv(argv []string) Outcome {
	o.argv = append([]string(nil), argv...)
	return o
}

// NativeOutcome builds an Outcome for a conversion done in-process by a
// library rather than a child process. A nil err is a success; otherwise the
// error text stands in for stderr.
func NativeOutcome(name string, duration time.Duration, err error) Outcome {
	o := Outcome{Template: name, State: StateCompleted, Duration: duration}
	if err == nil {
		o.Verdict = VerdictSuccess
		return o
	}
	o.Verdict, o.Cause, o.ExitCode, o.Stderr = VerdictFatalFailure, CauseExit, 1, err.Error()
	o.err = &ExitError{Template: name, Code: 1, Stderr: o.Stderr}
	return o
}
