package lua

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	glua "github.com/yuin/gopher-lua"

	"github.com/mgomes/moonhost/moon"
)

// instance runs one artifact. Global reads and writes of the chunk go
// through env, whose metatable consults the base, the standard libraries, the
// binding and finally the global fallback.
//
// mu guards every use of the Lua state. Each entry runs on a call stack of
// its own, a thread of the main state, so an entry suspended in a Go
// callback never shares a stack with one that started meanwhile. mu is
// released while Lua waits on Go code.
type instance struct {
	artifact *Artifact
	menv     *moon.Env
	L        *glua.LState

	mu      sync.Mutex
	idle    []*glua.LState
	running map[*glua.LState]context.Context

	globals *glua.LTable
	goMeta  *glua.LTable
	chunk   *glua.LFunction
	members map[string]struct{}
	base    map[string]glua.LValue
}

func newInstance(a *Artifact, env *moon.Env, L *glua.LState) *instance {
	in := &instance{
		artifact: a,
		menv:     env,
		L:        L,
		idle:     []*glua.LState{L},
		running:  make(map[*glua.LState]context.Context),
		members:  make(map[string]struct{}, len(a.members)),
		base:     make(map[string]glua.LValue),
	}
	for _, name := range a.members {
		in.members[name] = struct{}{}
	}

	in.goMeta = L.NewTable()
	in.goMeta.RawSetString("__index", L.NewFunction(in.goIndex))
	in.goMeta.RawSetString("__tostring", L.NewFunction(in.goString))

	in.globals = L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(in.index))
	mt.RawSetString("__newindex", L.NewFunction(in.newIndex))
	L.SetMetatable(in.globals, mt)

	in.chunk = L.NewFunctionFromProto(a.proto)
	in.chunk.Env = in.globals
	return in
}

// enter locks the instance and reserves a call stack for one entry. The
// stack returns to the idle list when the entry leaves.
func (in *instance) enter(ctx context.Context) (*glua.LState, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	in.mu.Lock()
	var L *glua.LState
	if n := len(in.idle); n > 0 {
		L = in.idle[n-1]
		in.idle = in.idle[:n-1]
	} else {
		L, _ = in.L.NewThread()
	}
	in.running[L] = ctx
	return L, func() {
		delete(in.running, L)
		in.idle = append(in.idle, L)
		in.mu.Unlock()
	}
}

// release runs fn with the instance unlocked, passing the context of the
// entry running on L. Nothing else uses L until fn returns.
func (in *instance) release(L *glua.LState, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx := in.running[L]
	if ctx == nil {
		ctx = context.Background()
	}
	in.mu.Unlock()
	defer in.mu.Lock()
	return fn(ctx)
}

func (in *instance) Run(ctx context.Context) (any, error) {
	L, leave := in.enter(ctx)
	defer leave()
	return in.call(L, in.chunk, nil, nil)
}

func (in *instance) Invoke(ctx context.Context, name string, args []any) (any, error) {
	L, leave := in.enter(ctx)
	defer leave()

	fn, ok := in.member(name)
	if !ok {
		return nil, &moon.MissingMethodError{Name: name, Origin: in.artifact.name, Arity: len(args)}
	}
	v, err := in.call(L, fn, nil, args)
	return v, moon.Fail(err)
}

func (in *instance) member(name string) (*glua.LFunction, bool) {
	if _, ok := in.members[name]; !ok {
		return nil, false
	}
	fn, ok := in.globals.RawGetString(name).(*glua.LFunction)
	return fn, ok
}

// call runs fn with the given arguments on the call stack L. self, when
// non-nil, is passed first.
func (in *instance) call(L *glua.LState, fn *glua.LFunction, self glua.LValue, args []any) (any, error) {
	top := L.GetTop()
	L.Push(fn)
	nargs := len(args)
	if self != nil {
		L.Push(self)
		nargs++
	}
	for _, arg := range args {
		L.Push(in.toLua(arg))
	}
	if err := L.PCall(nargs, glua.MultRet, nil); err != nil {
		L.SetTop(top)
		return nil, liftError(err)
	}
	n := L.GetTop() - top
	defer L.SetTop(top)
	switch n {
	case 0:
		return nil, nil
	case 1:
		return in.fromLua(L.Get(-1)), nil
	}
	results := make(moon.Tuple, n)
	for i := range n {
		results[i] = in.fromLua(L.Get(top + 1 + i))
	}
	return results, nil
}

func (in *instance) index(L *glua.LState) int {
	key, ok := L.Get(2).(glua.LString)
	if !ok {
		L.Push(glua.LNil)
		return 1
	}
	L.Push(in.lookup(L, string(key)))
	return 1
}

func (in *instance) lookup(L *glua.LState, name string) glua.LValue {
	if name == "print" {
		return L.NewFunction(in.print)
	}
	if v, ok := in.baseMember(name); ok {
		return v
	}
	if v := L.G.Global.RawGetString(name); v != glua.LNil {
		return v
	}
	if in.menv.Binding.Has(name) {
		v, err := in.menv.Binding.Get(name)
		if err != nil {
			in.raise(L, err)
		}
		return in.toLua(v)
	}
	if in.menv.CanFallback(name) {
		return L.NewFunction(func(L *glua.LState) int {
			args := in.argsFrom(L, 1)
			v, err := in.release(L, func(ctx context.Context) (any, error) {
				return in.menv.CallFallback(ctx, name, args)
			})
			if err != nil {
				in.raise(L, err)
			}
			return in.pushResult(L, v)
		})
	}
	in.raise(L, &moon.MissingVariableError{Name: name})
	return glua.LNil
}

func (in *instance) baseMember(name string) (glua.LValue, bool) {
	if v, ok := in.base[name]; ok {
		return v, true
	}
	raw, ok := in.artifact.base[name]
	if !ok {
		return nil, false
	}
	v := in.toLua(raw)
	in.base[name] = v
	return v, true
}

func (in *instance) newIndex(L *glua.LState) int {
	key, ok := L.Get(2).(glua.LString)
	value := L.Get(3)
	if !ok {
		in.globals.RawSet(L.Get(2), value)
		return 0
	}
	name := string(key)
	if fn, isFn := value.(*glua.LFunction); isFn {
		in.globals.RawSetString(name, fn)
		in.members[name] = struct{}{}
		return 0
	}
	if err := in.menv.Binding.Set(name, in.fromLua(value)); err != nil {
		in.raise(L, err)
	}
	return 0
}

// print writes its arguments to the binding's out writer.
func (in *instance) print(L *glua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	var w io.Writer = os.Stdout
	if v, err := in.menv.Binding.Get(moon.OutputName); err == nil {
		if out, ok := v.(io.Writer); ok {
			w = out
		}
	}
	if _, err := io.WriteString(w, strings.Join(parts, "\t")+"\n"); err != nil {
		in.raise(L, err)
	}
	return 0
}

// goIndex resolves method names on Go values exposed to Lua.
func (in *instance) goIndex(L *glua.LState) int {
	ud := L.CheckUserData(1)
	name := L.CheckString(2)
	recv := ud.Value
	L.Push(L.NewFunction(func(L *glua.LState) int {
		first := 1
		if self, ok := L.Get(1).(*glua.LUserData); ok && self == ud {
			first = 2
		}
		args := in.argsFrom(L, first)
		v, err := in.release(L, func(ctx context.Context) (any, error) {
			return moon.CallMethod(ctx, recv, name, args)
		})
		if err != nil {
			in.raise(L, unwrapFailure(err))
		}
		return in.pushResult(L, v)
	}))
	return 1
}

func (in *instance) goString(L *glua.LState) int {
	ud := L.CheckUserData(1)
	L.Push(glua.LString(describe(ud.Value)))
	return 1
}

func (in *instance) argsFrom(L *glua.LState, first int) []any {
	top := L.GetTop()
	if top < first {
		return []any{}
	}
	args := make([]any, 0, top-first+1)
	for i := first; i <= top; i++ {
		args = append(args, in.fromLua(L.Get(i)))
	}
	return args
}

func (in *instance) pushResult(L *glua.LState, v any) int {
	if t, ok := v.(moon.Tuple); ok {
		for _, item := range t {
			L.Push(in.toLua(item))
		}
		return len(t)
	}
	L.Push(in.toLua(v))
	return 1
}

// raise throws err as a Lua error that keeps its Go identity.
func (in *instance) raise(L *glua.LState, err error) {
	ud := L.NewUserData()
	ud.Value = err
	L.SetMetatable(ud, in.goMeta)
	L.Error(ud, 1)
}
