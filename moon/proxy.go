package moon

import (
	"context"
	"fmt"
	"reflect"
)

// Method describes one member of a capability set. Default, when set, runs
// for calls nothing else resolves.
type Method struct {
	Name    string
	Default func(ctx context.Context, p *Proxy, args []any) (any, error)
}

// Interface is a named capability set: methods only, no data.
type Interface struct {
	Name    string
	Methods []Method
}

func NewInterface(name string, methods ...Method) *Interface {
	return &Interface{Name: name, Methods: methods}
}

// InterfaceOf describes the method set of a Go interface type. Go interfaces
// carry no default implementations.
func InterfaceOf(t reflect.Type) (*Interface, error) {
	if t == nil {
		return nil, &ProxyConfigError{Type: "<nil>", Reason: "not an interface type"}
	}
	if t.Kind() != reflect.Interface {
		return nil, &ProxyConfigError{Type: t.String(), Reason: "not an interface type"}
	}
	iface := &Interface{Name: t.String()}
	for i := 0; i < t.NumMethod(); i++ {
		iface.Methods = append(iface.Methods, Method{Name: t.Method(i).Name})
	}
	return iface, nil
}

func (i *Interface) Method(name string) (Method, bool) {
	for _, m := range i.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

func (i *Interface) validate() error {
	seen := make(map[string]struct{}, len(i.Methods))
	for _, m := range i.Methods {
		if m.Name == "" {
			return &ProxyConfigError{Type: i.Name, Reason: "method without a name"}
		}
		if _, dup := seen[m.Name]; dup {
			return &ProxyConfigError{Type: i.Name, Reason: fmt.Sprintf("duplicate method %s", m.Name)}
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}

// Proxy satisfies a capability set by routing each call through the engine's
// resolver.
type Proxy struct {
	engine   *Engine
	sc       ScriptContext
	receiver any
	iface    *Interface
}

// Proxy builds a proxy for iface, which must be an *Interface or a
// reflect.Type of interface kind. A nil receiver resolves methods as global
// functions.
func (e *Engine) Proxy(sc ScriptContext, receiver any, iface any) (*Proxy, error) {
	var desc *Interface
	switch v := iface.(type) {
	case *Interface:
		if v == nil {
			return nil, &ProxyConfigError{Type: "<nil>", Reason: "no capability set"}
		}
		desc = v
	case reflect.Type:
		var err error
		if desc, err = InterfaceOf(v); err != nil {
			return nil, err
		}
	default:
		return nil, &ProxyConfigError{Type: fmt.Sprintf("%T", iface), Reason: "not a capability set"}
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}
	return &Proxy{engine: e, sc: e.resolve(sc), receiver: receiver, iface: desc}, nil
}

func (p *Proxy) Interface() *Interface { return p.iface }

func (p *Proxy) Receiver() any { return p.receiver }

// Call invokes method through the resolver. When nothing resolves, the
// method's default runs if it has one; failures of the resolved callable are
// returned as their original cause.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m, ok := p.iface.Method(method)
	if !ok {
		return nil, &MissingMethodError{Name: method, Origin: p.iface.Name, Arity: len(args)}
	}
	out := p.engine.resolver.Invoke(ctx, p.receiver, method, Tuple(args), p.sc)
	switch out.Kind {
	case Resolved:
		return out.Value, nil
	case Failed:
		return nil, out.Err
	}
	if m.Default != nil {
		return m.Default(ctx, p, args)
	}
	return nil, out.Err
}

// InvokeMethod lets a proxy act as a receiver.
func (p *Proxy) InvokeMethod(ctx context.Context, name string, args []any) (any, error) {
	v, err := p.Call(ctx, name, args...)
	if err != nil {
		if _, missing := err.(*MissingMethodError); !missing {
			err = Fail(err)
		}
	}
	return v, err
}

// Bind fills target, a pointer to a struct whose exported fields are all
// funcs, with funcs that call through a Proxy. Fields set before binding act
// as defaults. A `moon:"name"` tag overrides the method name.
//
// Results convert to each field's result types. A field whose last result is
// an error receives dispatch errors there; other fields panic on failure.
func (e *Engine) Bind(sc ScriptContext, receiver any, target any) (*Proxy, error) {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() || ptr.Elem().Kind() != reflect.Struct {
		return nil, &ProxyConfigError{Type: fmt.Sprintf("%T", target), Reason: "target must be a non-nil pointer to a struct of funcs"}
	}
	st := ptr.Elem()
	t := st.Type()

	type boundField struct {
		index int
		name  string
	}
	var fields []boundField
	var methods []Method
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Type.Kind() != reflect.Func {
			return nil, &ProxyConfigError{Type: t.String(), Reason: fmt.Sprintf("field %s is not a func", f.Name)}
		}
		name := f.Name
		if tag := f.Tag.Get("moon"); tag != "" {
			name = tag
		}
		m := Method{Name: name}
		if current := st.Field(i); !current.IsNil() {
			m.Default = defaultFrom(current.Interface())
		}
		methods = append(methods, m)
		fields = append(fields, boundField{index: i, name: name})
	}

	iface := NewInterface(t.String(), methods...)
	if err := iface.validate(); err != nil {
		return nil, err
	}
	p := &Proxy{engine: e, sc: e.resolve(sc), receiver: receiver, iface: iface}
	for _, bf := range fields {
		name := bf.name
		st.Field(bf.index).Set(makeFunc(t.Field(bf.index).Type, func(ctx context.Context, args []any) (any, error) {
			return p.Call(ctx, name, args...)
		}))
	}
	return p, nil
}

func defaultFrom(fn any) func(ctx context.Context, p *Proxy, args []any) (any, error) {
	c, _ := AsCallable(fn)
	return func(ctx context.Context, _ *Proxy, args []any) (any, error) {
		v, err := c.Call(ctx, args)
		return v, unwrapCall(err)
	}
}
