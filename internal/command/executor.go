package command

import "time"

// Request is a transform request as seen by the executor.
type Request struct {
	SourcePath      string
	TargetPath      string
	SourceExtension string
	TargetExtension string
	Options         Options
}

// Executor runs requests against one tool's registry. Each tool is a
// configuration value: the executor is the same for all of them.
type Executor struct {
	Registry *Registry
	Launcher *Launcher
	// Dir is the working directory for child processes; empty inherits ours.
	Dir string
	// Timeout applies to templates that do not set their own.
	Timeout time.Duration
}

// Run selects a template, expands it and executes it.
//
// Selection and expansion problems (ErrNoMatchingTemplate, ErrMissingOption)
// are returned as errors because nothing was launched. Everything after that,
// including launch failures and timeouts, is reported through the Outcome.
func (e *Executor) Run(req Request) (Outcome, error) {
	t, err := e.Registry.Select(req.SourceExtension, req.TargetExtension)
	if err != nil {
		return Outcome{}, err
	}

	opts := make(Options, len(req.Options)+2)
	for k, v := range req.Options {
		opts[k] = v
	}
	opts[OptionSource] = req.SourcePath
	opts[OptionTarget] = req.TargetPath

	argv, err := Expand(t, opts)
	if err != nil {
		return Outcome{}, err
	}

	timeout := t.timeout
	if timeout <= 0 {
		timeout = e.Timeout
	}
	launcher := e.Launcher
	if launcher == nil {
		launcher = &Launcher{}
	}
	res, execErr := launcher.Execute(Invocation{
		Args:    argv,
		Env:     t.env,
		Dir:     e.Dir,
		Timeout: timeout,
	})
	return Classify(t, res, execErr).WithArgv(argv), nil
}
