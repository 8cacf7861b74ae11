package command

import "strings"

// Options maps option names to request-supplied values. A missing key means
// the option was not supplied.
type Options map[string]string

// Expand resolves the template's fragments into a concrete argument vector.
//
// Each ${name} takes the request value, then the template default, then "".
// SPLIT: fragments are tokenized on whitespace after substitution and
// contribute no entries when the result is blank. Values are substituted once
// and never re-scanned.
func Expand(t *Template, opts Options) ([]string, error) {
	for _, name := range t.required {
		if _, ok := t.resolve(name, opts); !ok {
			return nil, &MissingOptionError{Template: t.name, Option: name}
		}
	}

	lookup := func(name string) string {
		v, _ := t.resolve(name, opts)
		return v
	}

	argv := make([]string, 0, len(t.args))
	for _, f := range t.args {
		value := f.render(lookup)
		if f.split {
			argv = append(argv, strings.Fields(value)...)
			continue
		}
		argv = append(argv, value)
	}
	return argv, nil
}

// resolve reports the option value and whether one was actually supplied.
// An empty default counts as "no value".
func (t *Template) resolve(name string, opts Options) (string, bool) {
	if v, ok := opts[name]; ok {
		return v, true
	}
	if v, ok := t.defaults[name]; ok && v != "" {
		return v, true
	}
	return "", false
}
