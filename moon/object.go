package moon

import "context"

// Artifact is a compiled script. It is immutable and shared by every
// evaluation of the same source text.
type Artifact interface {
	Name() string
	// Members lists the functions an instance defines itself.
	Members() []string
	NewInstance(env *Env) (Instance, error)
}

// Instance is one stateful execution of an Artifact.
type Instance interface {
	// Invoke calls one of the instance's own members. It returns a
	// *MissingMethodError when the instance does not define name and wraps
	// failures of a member that does exist with Fail.
	Invoke(ctx context.Context, name string, args []any) (any, error)
	Run(ctx context.Context) (any, error)
}

// Env is what an instance receives from the engine: its binding and access
// to the global fallback for names it does not define.
type Env struct {
	Binding *Binding
	Name    string

	resolver *Resolver
}

// CanFallback reports whether the global fallback has a candidate for name.
func (e *Env) CanFallback(name string) bool {
	if e.resolver == nil {
		return false
	}
	return e.resolver.CanResolve(name, e.context())
}

// CallFallback resolves name through the global registry and the context,
// returning failures of the resolved callable unwrapped.
func (e *Env) CallFallback(ctx context.Context, name string, args []any) (any, error) {
	if e.resolver == nil {
		return nil, &MissingMethodError{Name: name, Origin: e.Name, Arity: len(args)}
	}
	return e.resolver.invokeFromMeta(ctx, name, args, e.context(), e.Name)
}

func (e *Env) context() ScriptContext {
	if e.Binding == nil {
		return nil
	}
	return e.Binding.Context()
}

// ScriptObject is an evaluated script used as a receiver. Names its
// instance does not define fall back to the global registry and the
// context. CompiledScript.Instantiate returns one.
type ScriptObject struct {
	artifact Artifact
	instance Instance
	env      *Env
}

func (o *ScriptObject) Name() string { return o.artifact.Name() }
func (o *ScriptObject) Artifact() Artifact { return o.artifact }
func (o *ScriptObject) Instance() Instance { return o.instance }
func (o *ScriptObject) Binding() *Binding { return o.env.Binding }

func (o *ScriptObject) InvokeMethod(ctx context.Context, name string, args []any) (any, error) {
	v, err := o.instance.Invoke(ctx, name, args)
	if _, missing := err.(*MissingMethodError); !missing {
		return v, err
	}
	return o.env.CallFallback(ctx, name, args)
}

func (o *ScriptObject) Run(ctx context.Context) (any, error) {
	return o.instance.Run(ctx)
}
