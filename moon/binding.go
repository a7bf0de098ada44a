package moon

const (
	// OutputName resolves to the context writer when no scope defines it.
	OutputName = "out"
	// ContextName resolves to the context itself when no scope defines it.
	ContextName = "context"
)

// Binding is the variable view one script instance has of its context. Every
// access holds the context monitor.
type Binding struct {
	sc ScriptContext
}

func NewBinding(sc ScriptContext) *Binding {
	return &Binding{sc: sc}
}

func (b *Binding) Context() ScriptContext { return b.sc }

// Get returns the value of name from the scope holding it, falling back to
// the synthetic out and context names.
func (b *Binding) Get(name string) (any, error) {
	b.sc.Lock()
	defer b.sc.Unlock()

	if scope := b.sc.AttributesScope(name); scope != NoScope {
		v, _ := b.sc.AttributeIn(name, scope)
		return v, nil
	}
	switch name {
	case OutputName:
		if w := b.sc.Writer(); w != nil {
			return NewOutput(w), nil
		}
	case ContextName:
		return b.sc, nil
	}
	return nil, &MissingVariableError{Name: name}
}

// Has reports whether Get would succeed for name.
func (b *Binding) Has(name string) bool {
	b.sc.Lock()
	defer b.sc.Unlock()

	if b.sc.AttributesScope(name) != NoScope {
		return true
	}
	switch name {
	case OutputName:
		return b.sc.Writer() != nil
	case ContextName:
		return true
	}
	return false
}

// Set writes name into the scope already holding it, or into the context's
// default scope for new names.
func (b *Binding) Set(name string, value any) error {
	b.sc.Lock()
	defer b.sc.Unlock()

	scope := b.sc.AttributesScope(name)
	if scope == NoScope {
		scope = b.sc.DefaultScope()
	}
	return b.sc.SetAttribute(name, value, scope)
}
