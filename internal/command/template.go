package command

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// SplitPrefix marks a fragment whose substituted value is tokenized on
	// whitespace into separate arguments.
	SplitPrefix = "SPLIT:"

	// OptionSource and OptionTarget are always populated from the request paths.
	OptionSource = "source"
	OptionTarget = "target"
)

var placeholderName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// segment is either literal text or a ${name} reference.
type segment struct {
	literal     string
	placeholder string
}

// Fragment is a single parsed entry of an argument template.
type Fragment struct {
	raw      string
	split    bool
	segments []segment
}

// ParseFragment parses a template argument such as "-resize", "${source}",
// "-density=${dpi}" or "SPLIT:${options}".
func ParseFragment(raw string) (Fragment, error) {
	f := Fragment{raw: raw}
	body := raw
	if strings.HasPrefix(body, SplitPrefix) {
		f.split = true
		body = strings.TrimPrefix(body, SplitPrefix)
	}

	for body != "" {
		start := strings.Index(body, "${")
		if start < 0 {
			f.segments = append(f.segments, segment{literal: body})
			break
		}
		if start > 0 {
			f.segments = append(f.segments, segment{literal: body[:start]})
		}
		end := strings.IndexByte(body[start+2:], '}')
		if end < 0 {
			return Fragment{}, fmt.Errorf("unterminated placeholder in %q", raw)
		}
		name := body[start+2 : start+2+end]
		if !placeholderName.MatchString(name) {
			return Fragment{}, fmt.Errorf("invalid placeholder name %q in %q", name, raw)
		}
		f.segments = append(f.segments, segment{placeholder: name})
		body = body[start+2+end+1:]
	}
	return f, nil
}

// Raw returns the fragment as written in the template.
func (f Fragment) Raw() string { return f.raw }

// Split reports whether the fragment carries the SPLIT: marker.
func (f Fragment) Split() bool { return f.split }

// Placeholders returns the option names referenced by the fragment, in order.
func (f Fragment) Placeholders() []string {
	var names []string
	for _, s := range f.segments {
		if s.placeholder != "" {
			names = append(names, s.placeholder)
		}
	}
	return names
}

func (f Fragment) render(resolve func(name string) string) string {
	if len(f.segments) == 1 && f.segments[0].placeholder == "" {
		return f.segments[0].literal
	}
	var b strings.Builder
	for _, s := range f.segments {
		if s.placeholder != "" {
			b.WriteString(resolve(s.placeholder))
			continue
		}
		b.WriteString(s.literal)
	}
	return b.String()
}

// TemplateSpec is the declarative form of a Template.
type TemplateSpec struct {
	Name string
	// Match is a regular expression matched in full against the selection
	// key "<sourceExt>:<targetExt>". Empty matches everything.
	Match               string
	Args                []string
	Env                 map[string]string
	Defaults            map[string]string
	Required            []string
	AcceptableExitCodes []int
	Timeout             time.Duration
}

// Template is an immutable recipe for one tool invocation. It is safe for
// concurrent use once constructed.
type Template struct {
	name       string
	match      string
	pattern    *regexp.Regexp
	args       []Fragment
	env        map[string]string
	defaults   map[string]string
	required   []string
	acceptable map[int]struct{}
	timeout    time.Duration
}

// NewTemplate validates spec and compiles it into a Template.
func NewTemplate(spec TemplateSpec) (*Template, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, configErrorf("template.name", "must not be empty")
	}
	field := func(f string) string { return fmt.Sprintf("template %q: %s", name, f) }

	match := spec.Match
	if strings.TrimSpace(match) == "" {
		match = ".*"
	}
	pattern, err := regexp.Compile(`^(?:` + match + `)$`)
	if err != nil {
		return nil, configErrorf(field("match"), "%v", err)
	}

	if len(spec.Args) == 0 {
		return nil, configErrorf(field("args"), "must not be empty")
	}
	args := make([]Fragment, 0, len(spec.Args))
	for i, raw := range spec.Args {
		frag, err := ParseFragment(raw)
		if err != nil {
			return nil, configErrorf(field(fmt.Sprintf("args[%d]", i)), "%v", err)
		}
		args = append(args, frag)
	}
	if args[0].split || strings.TrimSpace(args[0].raw) == "" {
		return nil, configErrorf(field("args[0]"), "executable must be a non-empty, non-split argument")
	}

	required := make([]string, 0, len(spec.Required))
	for _, r := range spec.Required {
		r = strings.TrimSpace(r)
		if !placeholderName.MatchString(r) {
			return nil, configErrorf(field("required"), "invalid option name %q", r)
		}
		if !slices.Contains(required, r) {
			required = append(required, r)
		}
	}

	acceptable := make(map[int]struct{}, len(spec.AcceptableExitCodes))
	for _, code := range spec.AcceptableExitCodes {
		if code == 0 {
			return nil, configErrorf(field("acceptable_exit_codes"), "0 is always success and cannot be listed")
		}
		acceptable[code] = struct{}{}
	}

	if spec.Timeout < 0 {
		return nil, configErrorf(field("timeout"), "must not be negative")
	}

	return &Template{
		name:       name,
		match:      match,
		pattern:    pattern,
		args:       args,
		env:        maps.Clone(spec.Env),
		defaults:   maps.Clone(spec.Defaults),
		required:   required,
		acceptable: acceptable,
		timeout:    spec.Timeout,
	}, nil
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Match returns the pattern source the template was built from.
func (t *Template) Match() string { return t.match }

// Matches reports whether the template accepts the given selection key.
func (t *Template) Matches(key string) bool { return t.pattern.MatchString(key) }

// Args returns the raw argument fragments.
func (t *Template) Args() []string {
	out := make([]string, len(t.args))
	for i, f := range t.args {
		out[i] = f.raw
	}
	return out
}

// Executable returns the first argument fragment, unexpanded.
func (t *Template) Executable() string { return t.args[0].raw }

// Env returns a copy of the environment overrides.
func (t *Template) Env() map[string]string { return maps.Clone(t.env) }

// Timeout returns the template-specific timeout, or zero to use the executor's.
func (t *Template) Timeout() time.Duration { return t.timeout }

// AcceptsExitCode reports whether a non-zero exit code is an expected failure.
func (t *Template) AcceptsExitCode(code int) bool {
	_, ok := t.acceptable[code]
	return ok
}

// AcceptableExitCodes returns the expected-failure codes in ascending order.
func (t *Template) AcceptableExitCodes() []int {
	return slices.Sorted(maps.Keys(t.acceptable))
}

// ParseExitCodes parses a comma-separated exit code list such as "1,2,255".
func ParseExitCodes(s string) ([]int, error) {
	var codes []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid exit code %q", part)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// SelectionKey builds the string templates are matched against.
func SelectionKey(sourceExt, targetExt string) string {
	return NormalizeExtension(sourceExt) + ":" + NormalizeExtension(targetExt)
}

// NormalizeExtension lowercases an extension and strips any leading dot.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
