package moon

import (
	"context"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

type OutcomeKind int

const (
	Resolved OutcomeKind = iota
	NotFound
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case NotFound:
		return "not_found"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of one resolution attempt. Err is a
// *MissingMethodError for NotFound and the unwrapped cause for Failed.
type Outcome struct {
	Kind  OutcomeKind
	Value any
	Err   error
}

// classify maps a callable's result onto an Outcome. Only a top-level
// *MissingMethodError counts as NotFound; a *CallError is unwrapped once.
func classify(v any, err error) Outcome {
	if err == nil {
		return Outcome{Kind: Resolved, Value: v}
	}
	switch e := err.(type) {
	case *MissingMethodError:
		return Outcome{Kind: NotFound, Err: e}
	case *CallError:
		return Outcome{Kind: Failed, Err: e.Cause}
	}
	return Outcome{Kind: Failed, Err: err}
}

const (
	tierReceiver = "receiver"
	tierRegistry = "registry"
	tierContext  = "context"
	tierNone     = "none"
)

// Resolver routes a bare name call to the receiver, the global registry or a
// callable context attribute, in that order.
type Resolver struct {
	registry *Registry
	origin   string
	logger   *zap.Logger
	metrics  *Metrics
}

// NewResolver returns a resolver over reg. origin names the lookup origin in
// errors for calls no tier could resolve.
func NewResolver(reg *Registry, origin string) *Resolver {
	return newResolver(reg, origin, zap.NewNop(), nil)
}

func newResolver(reg *Registry, origin string, logger *zap.Logger, metrics *Metrics) *Resolver {
	return &Resolver{registry: reg, origin: origin, logger: logger, metrics: metrics}
}

// Invoke resolves name. A non-nil receiver is the only tier consulted;
// otherwise the registry and then sc are tried, each only after the previous
// tier reported NotFound.
func (r *Resolver) Invoke(ctx context.Context, receiver any, name string, args any, sc ScriptContext) Outcome {
	argv := NormalizeArgs(args)
	if receiver != nil {
		out := invokeReceiver(ctx, receiver, name, argv)
		r.observe(tierReceiver, name, out)
		return out
	}
	return r.invokeGlobal(ctx, name, argv, sc, r.origin)
}

// invokeFromMeta is the fallback for a script object whose own members do
// not define name. Failures of a resolved callable are returned as their
// unwrapped cause so the script sees the original error.
func (r *Resolver) invokeFromMeta(ctx context.Context, name string, args []any, sc ScriptContext, origin string) (any, error) {
	out := r.invokeGlobal(ctx, name, args, sc, origin)
	if out.Kind == Resolved {
		return out.Value, nil
	}
	return nil, out.Err
}

func (r *Resolver) invokeGlobal(ctx context.Context, name string, args []any, sc ScriptContext, origin string) Outcome {
	var first *MissingMethodError

	if c, ok := r.registry.Lookup(name); ok {
		out := classify(c.Call(ctx, args))
		if out.Kind != NotFound {
			r.observe(tierRegistry, name, out)
			return out
		}
		first = out.Err.(*MissingMethodError)
	}

	if sc != nil {
		if attr, ok := sc.Attribute(name); ok {
			if c, ok := AsCallable(attr); ok {
				out := classify(c.Call(ctx, args))
				if out.Kind != NotFound {
					r.observe(tierContext, name, out)
					return out
				}
				if first == nil {
					first = out.Err.(*MissingMethodError)
				}
			}
		}
	}

	if first == nil {
		first = &MissingMethodError{Name: name, Origin: origin, Arity: len(args)}
	}
	out := Outcome{Kind: NotFound, Err: first}
	r.observe(tierNone, name, out)
	return out
}

// CanResolve reports whether a global call to name has a candidate in the
// registry or a callable attribute in sc.
func (r *Resolver) CanResolve(name string, sc ScriptContext) bool {
	if _, ok := r.registry.Lookup(name); ok {
		return true
	}
	if sc == nil {
		return false
	}
	attr, ok := sc.Attribute(name)
	if !ok {
		return false
	}
	_, ok = AsCallable(attr)
	return ok
}

func (r *Resolver) observe(tier, name string, out Outcome) {
	r.metrics.dispatch(tier, out.Kind)
	if ce := r.logger.Check(zap.DebugLevel, "dispatch"); ce != nil {
		ce.Write(zap.String("name", name), zap.String("tier", tier), zap.Stringer("outcome", out.Kind))
	}
}

// CallMethod invokes name on receiver alone, without global fallback. A
// failure of the resolved method is wrapped with Fail.
func CallMethod(ctx context.Context, receiver any, name string, args []any) (any, error) {
	out := invokeReceiver(ctx, receiver, name, args)
	switch out.Kind {
	case Resolved:
		return out.Value, nil
	case NotFound:
		return nil, out.Err
	default:
		return nil, Fail(out.Err)
	}
}

// invokeReceiver dispatches name on receiver: Invokers resolve their own
// methods, maps hold callables by key, and other values expose exported Go
// methods.
func invokeReceiver(ctx context.Context, receiver any, name string, args []any) Outcome {
	switch recv := receiver.(type) {
	case Invoker:
		return classify(recv.InvokeMethod(ctx, name, args))
	case map[string]any:
		if c, ok := AsCallable(recv[name]); ok {
			return classify(c.Call(ctx, args))
		}
		return Outcome{Kind: NotFound, Err: &MissingMethodError{Name: name, Origin: fmt.Sprintf("%T", receiver), Arity: len(args)}}
	}

	rv := reflect.ValueOf(receiver)
	method := rv.MethodByName(name)
	if !method.IsValid() {
		method = rv.MethodByName(exportedName(name))
	}
	if method.IsValid() {
		fn := &goFunc{name: name, origin: fmt.Sprintf("%T", receiver), fn: method}
		return classify(fn.Call(ctx, args))
	}
	return Outcome{Kind: NotFound, Err: &MissingMethodError{Name: name, Origin: fmt.Sprintf("%T", receiver), Arity: len(args)}}
}

func exportedName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}
