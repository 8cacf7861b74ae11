package command

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfiguration marks a tool or template that cannot be built.
	// It is only returned at startup.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNoMatchingTemplate means no registered template accepts the
	// source/target combination of a request.
	ErrNoMatchingTemplate = errors.New("no matching template")

	// ErrMissingOption means a required option had neither a request value
	// nor a template default.
	ErrMissingOption = errors.New("missing required option")

	// ErrLaunch means the child process could not be started.
	ErrLaunch = errors.New("launch failure")

	// ErrTimeout means the child process was killed after exceeding its timeout.
	ErrTimeout = errors.New("timeout failure")

	// ErrExpectedFailure is a non-zero exit listed as acceptable by the template.
	ErrExpectedFailure = errors.New("expected failure")

	// ErrFatalFailure is a non-zero exit the template does not accept.
	ErrFatalFailure = errors.New("fatal failure")

	// ErrToolUnavailable is returned by the probe when the tool cannot be run.
	ErrToolUnavailable = errors.New("tool unavailable")
)

// ConfigError describes why a template or tool could not be constructed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NoMatchError reports the selection key that no template accepted.
type NoMatchError struct {
	SourceExtension string
	TargetExtension string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no matching template for %s -> %s", e.SourceExtension, e.TargetExtension)
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatchingTemplate }

// MissingOptionError names the template and the option that could not be resolved.
type MissingOptionError struct {
	Template string
	Option   string
}

func (e *MissingOptionError) Error() string {
	return fmt.Sprintf("template %q: missing required option %q", e.Template, e.Option)
}

func (e *MissingOptionError) Unwrap() error { return ErrMissingOption }

// LaunchError wraps the OS error returned when starting the executable.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() []error { return []error{ErrLaunch, e.Err} }

// TimeoutError is returned after the process group has been killed.
type TimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%q killed after exceeding timeout of %v", e.Path, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ExitError carries a non-zero exit code together with the stderr captured
// from the process. Expected reports whether the template accepts the code.
type ExitError struct {
	Template string
	Code     int
	Stderr   string
	Expected bool
}

func (e *ExitError) Error() string {
	kind := "fatal failure"
	if e.Expected {
		kind = "expected failure"
	}
	if e.Stderr == "" {
		return fmt.Sprintf("template %q: %s: exit code %d", e.Template, kind, e.Code)
	}
	return fmt.Sprintf("template %q: %s: exit code %d: %s", e.Template, kind, e.Code, e.Stderr)
}

func (e *ExitError) Unwrap() error {
	if e.Expected {
		return ErrExpectedFailure
	}
	return ErrFatalFailure
}
