package lua

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	glua "github.com/yuin/gopher-lua"

	"github.com/mgomes/moonhost/moon"
)

// ScriptError is an error raised by Lua code, such as a call to error().
type ScriptError struct {
	Message    string
	StackTrace string
	Cause      error
}

func (e *ScriptError) Error() string { return e.Message }

func (e *ScriptError) Unwrap() error { return e.Cause }

// liftError recovers the Go error carried by a Lua error value, or describes
// a Lua-native error as a *ScriptError.
func liftError(err error) error {
	var apiErr *glua.ApiError
	if !errors.As(err, &apiErr) {
		return err
	}
	if ud, ok := apiErr.Object.(*glua.LUserData); ok {
		if goErr, ok := ud.Value.(error); ok {
			return goErr
		}
	}
	return &ScriptError{Message: apiErr.Object.String(), StackTrace: apiErr.StackTrace, Cause: apiErr.Cause}
}

func unwrapFailure(err error) error {
	if ce, ok := err.(*moon.CallError); ok {
		return ce.Cause
	}
	return err
}

func describe(v any) string {
	switch x := v.(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%T", v)
}

// Table is a Lua table seen from Go. As a receiver its function fields are
// methods, called with the table as self.
type Table struct {
	owner *instance
	t     *glua.LTable
}

// Len is the length of the table's array part.
func (t *Table) Len() int {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.t.Len()
}

// Get returns the field key converted to Go.
func (t *Table) Get(key string) any {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.owner.fromLua(t.t.RawGetString(key))
}

func (t *Table) Set(key string, value any) {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	t.t.RawSetString(key, t.owner.toLua(value))
}

func (t *Table) InvokeMethod(ctx context.Context, name string, args []any) (any, error) {
	L, leave := t.owner.enter(ctx)
	defer leave()
	fn, ok := t.t.RawGetString(name).(*glua.LFunction)
	if !ok {
		return nil, &moon.MissingMethodError{Name: name, Origin: "lua table", Arity: len(args)}
	}
	v, err := t.owner.call(L, fn, t.t, args)
	return v, moon.Fail(err)
}

// Export converts the table to a []any when it is a sequence and to a
// map[string]any otherwise. Nested tables are exported too.
func (t *Table) Export() any {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.owner.export(t.t, 0)
}

const maxExportDepth = 64

func (in *instance) export(tb *glua.LTable, depth int) any {
	if depth > maxExportDepth {
		return nil
	}
	value := func(lv glua.LValue) any {
		if nested, ok := lv.(*glua.LTable); ok {
			return in.export(nested, depth+1)
		}
		return in.fromLua(lv)
	}

	n := tb.Len()
	count := 0
	tb.ForEach(func(glua.LValue, glua.LValue) { count++ })
	if n > 0 && n == count {
		out := make([]any, n)
		for i := 1; i <= n; i++ {
			out[i-1] = value(tb.RawGetInt(i))
		}
		return out
	}
	out := make(map[string]any, count)
	tb.ForEach(func(k, v glua.LValue) {
		out[k.String()] = value(v)
	})
	return out
}

// Function is a Lua function seen from Go.
type Function struct {
	owner *instance
	fn    *glua.LFunction
}

func (f *Function) Call(ctx context.Context, args []any) (any, error) {
	L, leave := f.owner.enter(ctx)
	defer leave()
	v, err := f.owner.call(L, f.fn, nil, args)
	return v, moon.Fail(err)
}

func (in *instance) fromLua(lv glua.LValue) any {
	switch v := lv.(type) {
	case nil:
		return nil
	case *glua.LNilType:
		return nil
	case glua.LBool:
		return bool(v)
	case glua.LString:
		return string(v)
	case glua.LNumber:
		return float64(v)
	case *glua.LTable:
		return &Table{owner: in, t: v}
	case *glua.LFunction:
		return &Function{owner: in, fn: v}
	case *glua.LUserData:
		if v.Value != nil {
			return v.Value
		}
	}
	return lv
}

func (in *instance) toLua(v any) glua.LValue {
	switch x := v.(type) {
	case nil:
		return glua.LNil
	case glua.LValue:
		return x
	case bool:
		return glua.LBool(x)
	case string:
		return glua.LString(x)
	case float64:
		return glua.LNumber(x)
	case int:
		return glua.LNumber(x)
	case int64:
		return glua.LNumber(x)
	case *Table:
		if x.owner == in {
			return x.t
		}
		return in.toLua(x.Export())
	case *Function:
		if x.owner == in {
			return x.fn
		}
		return in.goFunction(x)
	case []any:
		return in.sequence(x)
	case moon.Tuple:
		return in.sequence(x)
	case map[string]any:
		tb := in.L.NewTable()
		for k, item := range x {
			tb.RawSetString(k, in.toLua(item))
		}
		return tb
	}

	if c, ok := moon.AsCallable(v); ok {
		return in.goFunction(c)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return glua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return glua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return glua.LNumber(rv.Float())
	case reflect.String:
		return glua.LString(rv.String())
	case reflect.Bool:
		return glua.LBool(rv.Bool())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return glua.LString(rv.Bytes())
		}
		tb := in.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			tb.Append(in.toLua(rv.Index(i).Interface()))
		}
		return tb
	case reflect.Map:
		tb := in.L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			tb.RawSet(in.mapKey(iter.Key()), in.toLua(iter.Value().Interface()))
		}
		return tb
	}

	ud := in.L.NewUserData()
	ud.Value = v
	in.L.SetMetatable(ud, in.goMeta)
	return ud
}

func (in *instance) mapKey(k reflect.Value) glua.LValue {
	switch k.Kind() {
	case reflect.String:
		return glua.LString(k.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return glua.LNumber(k.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return glua.LNumber(k.Uint())
	}
	return glua.LString(fmt.Sprint(k.Interface()))
}

func (in *instance) sequence(items []any) *glua.LTable {
	tb := in.L.CreateTable(len(items), 0)
	for i, item := range items {
		tb.RawSetInt(i+1, in.toLua(item))
	}
	return tb
}

// goFunction exposes a Go callable to Lua. Failures are raised as Lua errors
// carrying the original Go error.
func (in *instance) goFunction(c moon.Callable) *glua.LFunction {
	return in.L.NewFunction(func(L *glua.LState) int {
		args := in.argsFrom(L, 1)
		v, err := in.release(L, func(ctx context.Context) (any, error) {
			return c.Call(ctx, args)
		})
		if err != nil {
			in.raise(L, unwrapFailure(err))
		}
		return in.pushResult(L, v)
	})
}
