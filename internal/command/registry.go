package command

// Registry holds templates in registration order. It is populated once at
// startup and is read-only afterwards, so Select is safe for concurrent use.
type Registry struct {
	templates []*Template
}

// NewRegistry creates a registry from templates, preserving their order.
func NewRegistry(templates ...*Template) (*Registry, error) {
	r := &Registry{templates: make([]*Template, 0, len(templates))}
	for _, t := range templates {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a template. Two templates with the same name or the same
// match pattern make selection ambiguous and are rejected.
func (r *Registry) Register(t *Template) error {
	if t == nil {
		return configErrorf("registry", "nil template")
	}
	for _, existing := range r.templates {
		if existing.name == t.name {
			return configErrorf("registry", "template %q already registered", t.name)
		}
		if existing.match == t.match {
			return configErrorf("registry", "templates %q and %q share match pattern %q", existing.name, t.name, t.match)
		}
	}
	r.templates = append(r.templates, t)
	return nil
}

// Select returns the first template, in registration order, whose pattern
// matches the source/target extension pair.
func (r *Registry) Select(sourceExt, targetExt string) (*Template, error) {
	key := SelectionKey(sourceExt, targetExt)
	for _, t := range r.templates {
		if t.Matches(key) {
			return t, nil
		}
	}
	return nil, &NoMatchError{
		SourceExtension: NormalizeExtension(sourceExt),
		TargetExtension: NormalizeExtension(targetExt),
	}
}

// Supports reports whether any template matches the extension pair.
func (r *Registry) Supports(sourceExt, targetExt string) bool {
	_, err := r.Select(sourceExt, targetExt)
	return err == nil
}

// Templates returns the registered templates in order.
func (r *Registry) Templates() []*Template {
	return append([]*Template(nil), r.templates...)
}

// Len returns the number of registered templates.
func (r *Registry) Len() int { return len(r.templates) }

