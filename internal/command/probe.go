package command

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds a version query.
const DefaultProbeTimeout = 10 * time.Second

// Probe checks that a tool is installed by running its version query.
type Probe struct {
	args     []string
	env      map[string]string
	timeout  time.Duration
	launcher *Launcher
}

// NewProbe builds a probe for argv (for example [EXE, "-version"]).
func NewProbe(argv []string, env map[string]string, timeout time.Duration, launcher *Launcher) (*Probe, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, configErrorf("check", "version command must not be empty")
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if launcher == nil {
		launcher = &Launcher{}
	}
	return &Probe{
		args:     append([]string(nil), argv...),
		env:      maps.Clone(env),
		timeout:  timeout,
		launcher: launcher,
	}, nil
}

// CheckAvailable returns nil when the tool launched and exited within the
// probe timeout, whatever its exit code.
func (p *Probe) CheckAvailable() error {
	_, err := p.run()
	return err
}

// Available is the boolean form of CheckAvailable.
func (p *Probe) Available() bool { return p.CheckAvailable() == nil }

// Version runs the probe and returns the first non-empty line of output.
func (p *Probe) Version() (string, error) {
	res, err := p.run()
	if err != nil {
		return "", err
	}
	for _, stream := range [][]byte{res.Stdout, res.Stderr} {
		sc := bufio.NewScanner(bytes.NewReader(stream))
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				return line, nil
			}
		}
	}
	return "", nil
}

// Args returns the version command.
func (p *Probe) Args() []string { return append([]string(nil), p.args...) }

func (p *Probe) run() (Result, error) {
	res, err := p.launcher.Execute(Invocation{Args: p.args, Env: p.env, Timeout: p.timeout})
	if errors.Is(err, ErrLaunch) || errors.Is(err, ErrTimeout) {
		return res, fmt.Errorf("%w: %w", ErrToolUnavailable, err)
	}
	return res, nil
}
