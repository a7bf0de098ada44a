package moon

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Callable is anything dispatch can invoke with positional arguments.
//
// A Callable reports "I could not handle this call" with a
// *MissingMethodError and "I handled it and it failed" with a *CallError
// (see Fail). Any other error is treated as a failure.
type Callable interface {
	Call(ctx context.Context, args []any) (any, error)
}

// Func adapts an ordinary function to Callable.
type Func func(ctx context.Context, args []any) (any, error)

func (f Func) Call(ctx context.Context, args []any) (any, error) { return f(ctx, args) }

// Invoker is a receiver that resolves its own methods by name.
type Invoker interface {
	InvokeMethod(ctx context.Context, name string, args []any) (any, error)
}

// Exporter values convert themselves to plain Go values when a typed Go
// parameter or result needs them.
type Exporter interface {
	Export() any
}

// Tuple is an argument list or a multi-value result.
type Tuple []any

// NormalizeArgs turns a raw argument value into an argument list: nil becomes
// an empty list, []any and Tuple pass through unchanged, and anything else
// becomes a one-element list.
func NormalizeArgs(args any) []any {
	switch a := args.(type) {
	case nil:
		return []any{}
	case []any:
		return a
	case Tuple:
		return []any(a)
	default:
		return []any{args}
	}
}

// AsCallable reports whether v can be called. Plain Go funcs are adapted by
// reflection.
func AsCallable(v any) (Callable, bool) {
	switch fn := v.(type) {
	case nil:
		return nil, false
	case Callable:
		return fn, true
	case func(context.Context, []any) (any, error):
		return Func(fn), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, false
	}
	return &goFunc{name: funcName(rv), fn: rv}, true
}

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// goFunc calls an arbitrary Go func. A leading context.Context parameter
// receives the call context; a trailing error result becomes a CallError.
type goFunc struct {
	name   string
	origin string
	fn     reflect.Value
}

func funcName(fn reflect.Value) string {
	if f := runtime.FuncForPC(fn.Pointer()); f != nil {
		name := f.Name()
		if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
			name = name[idx+1:]
		}
		return name
	}
	return fn.Type().String()
}

func (g *goFunc) Call(ctx context.Context, args []any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	t := g.fn.Type()
	params := t.NumIn()
	first := 0
	in := make([]reflect.Value, 0, params+len(args))
	if params > 0 && t.In(0) == contextType {
		in = append(in, reflect.ValueOf(&ctx).Elem())
		first = 1
	}

	fixed := params - first
	if t.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, g.arityMismatch(len(args))
		}
	} else if len(args) != fixed {
		return nil, g.arityMismatch(len(args))
	}

	for i, arg := range args {
		var pt reflect.Type
		if i < fixed {
			pt = t.In(first + i)
		} else {
			pt = t.In(params - 1).Elem()
		}
		v, err := convertValue(arg, pt)
		if err != nil {
			return nil, g.arityMismatch(len(args))
		}
		in = append(in, v)
	}
	return unpackResults(g.fn.Call(in))
}

func (g *goFunc) arityMismatch(arity int) error {
	origin := g.origin
	if origin == "" {
		origin = g.fn.Type().String()
	}
	return &MissingMethodError{Name: g.name, Origin: origin, Arity: arity}
}

func unpackResults(out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if !out[n-1].IsNil() {
			return nil, Fail(out[n-1].Interface().(error))
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	}
	results := make(Tuple, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	return results, nil
}

// makeFunc builds a func of type t that forwards its arguments to call and
// converts the result back to t's result types. When t has no trailing error
// result, a failing call panics.
func makeFunc(t reflect.Type, call func(ctx context.Context, args []any) (any, error)) reflect.Value {
	return reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		first := 0
		if t.NumIn() > 0 && t.In(0) == contextType {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			first = 1
		}
		args := make([]any, 0, len(in)-first)
		for i := first; i < len(in); i++ {
			if t.IsVariadic() && i == len(in)-1 {
				for j := 0; j < in[i].Len(); j++ {
					args = append(args, in[i].Index(j).Interface())
				}
				continue
			}
			args = append(args, in[i].Interface())
		}
		res, err := call(ctx, args)
		return packResults(t, res, err)
	})
}

func packResults(t reflect.Type, res any, err error) []reflect.Value {
	n := t.NumOut()
	hasErr := n > 0 && t.Out(n-1) == errorType
	values := n
	if hasErr {
		values--
	}

	if err == nil {
		var parts []any
		switch values {
		case 0:
		case 1:
			parts = []any{res}
		default:
			tuple := NormalizeArgs(res)
			if len(tuple) != values {
				err = fmt.Errorf("moon: expected %d results, got %d", values, len(tuple))
			}
			parts = tuple
		}
		out := make([]reflect.Value, n)
		for i := 0; err == nil && i < values; i++ {
			out[i], err = convertValue(parts[i], t.Out(i))
		}
		if err == nil {
			if hasErr {
				out[n-1] = reflect.Zero(errorType)
			}
			return out
		}
	}

	if !hasErr {
		panic(err)
	}
	out := make([]reflect.Value, n)
	for i := range values {
		out[i] = reflect.Zero(t.Out(i))
	}
	out[n-1] = reflect.ValueOf(&err).Elem()
	return out
}
