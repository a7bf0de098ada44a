package lua

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/mgomes/moonhost/moon"
)

func newTestEngine(t *testing.T, cfg Config) *moon.Engine {
	t.Helper()
	compiler, err := NewCompiler(cfg)
	if err != nil {
		t.Fatalf("new compiler: %v", err)
	}
	return moon.MustNewEngine(moon.Config{Compiler: compiler, Logger: zaptest.NewLogger(t)})
}

func evalScript(t *testing.T, engine *moon.Engine, sc moon.ScriptContext, source string) any {
	t.Helper()
	v, err := engine.Eval(sc, source)
	if err != nil {
		t.Fatalf("eval failed: %v\nsource:\n%s", err, source)
	}
	return v
}

func TestInvokeFunctionDefinedByScript(t *testing.T) {
	engine := newTestEngine(t, Config{})
	evalScript(t, engine, nil, `function foo() return "foo" end`)

	got, err := engine.InvokeFunction("foo")
	if err != nil {
		t.Fatalf("invoke foo: %v", err)
	}
	if got != "foo" {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestFirstScriptDefinitionWins(t *testing.T) {
	engine := newTestEngine(t, Config{})
	evalScript(t, engine, nil, `function bar() return "first" end`)
	evalScript(t, engine, nil, `function bar() return "second" end`)

	got, err := engine.InvokeFunction("bar")
	if err != nil {
		t.Fatalf("invoke bar: %v", err)
	}
	if got != "first" {
		t.Fatalf("expected first definition, got %v", got)
	}
}

func TestContextCallableWithoutScript(t *testing.T) {
	engine := newTestEngine(t, Config{})
	sc := moon.NewContext()
	if err := sc.SetAttribute("baz", func() int { return 42 }, moon.ScopeEngine); err != nil {
		t.Fatalf("set baz: %v", err)
	}
	got, err := engine.Invoke(context.Background(), sc, nil, "baz")
	if err != nil {
		t.Fatalf("invoke baz: %v", err)
	}
	if got != 42 {
		t.Fatalf("unexpected result: %v", got)
	}

	if got := evalScript(t, engine, sc, `return baz() + 1`); got != 43.0 {
		t.Fatalf("expected script to call baz, got %v", got)
	}
}

func TestProxyWithoutBindingFails(t *testing.T) {
	engine := newTestEngine(t, Config{})
	p, err := engine.Proxy(nil, nil, moon.NewInterface("Runnable", moon.Method{Name: "run"}))
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	_, err = p.Call(context.Background(), "run")
	if !errors.Is(err, moon.ErrNoSuchMethod) {
		t.Fatalf("expected no such method, got %v", err)
	}
}

func TestProxyDefaultMethod(t *testing.T) {
	engine := newTestEngine(t, Config{})
	evalScript(t, engine, nil, `function name() return "lua" end`)
	iface := moon.NewInterface("Named",
		moon.Method{Name: "name"},
		moon.Method{Name: "greeting", Default: func(ctx context.Context, p *moon.Proxy, args []any) (any, error) {
			n, err := p.Call(ctx, "name")
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("hello %v", n), nil
		}},
	)
	p, err := engine.Proxy(nil, nil, iface)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	got, err := p.Call(context.Background(), "greeting")
	if err != nil || got != "hello lua" {
		t.Fatalf("unexpected result %v, %v", got, err)
	}
}

func TestProxyOverLuaTable(t *testing.T) {
	engine := newTestEngine(t, Config{})
	obj := evalScript(t, engine, nil, `
local greeter = { prefix = "hi " }
function greeter.greet(self, name) return self.prefix .. name end
return greeter
`)
	p, err := engine.Proxy(nil, obj, moon.NewInterface("Greeter", moon.Method{Name: "greet"}, moon.Method{Name: "wave"}))
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	got, err := p.Call(context.Background(), "greet", "ann")
	if err != nil || got != "hi ann" {
		t.Fatalf("unexpected result %v, %v", got, err)
	}
	if _, err := p.Call(context.Background(), "wave"); !errors.Is(err, moon.ErrNoSuchMethod) {
		t.Fatalf("expected missing table method, got %v", err)
	}
}

func TestBindToLuaFunctions(t *testing.T) {
	engine := newTestEngine(t, Config{})
	evalScript(t, engine, nil, `
function Add(a, b) return a + b end
function split(s) return s:sub(1, 1), s:sub(2) end
`)
	var calc struct {
		Add   func(a, b int) (int, error)
		Split func(string) (string, string, error) `moon:"split"`
	}
	if _, err := engine.Bind(nil, nil, &calc); err != nil {
		t.Fatalf("bind: %v", err)
	}
	sum, err := calc.Add(2, 3)
	if err != nil || sum != 5 {
		t.Fatalf("unexpected sum %v, %v", sum, err)
	}
	head, tail, err := calc.Split("lua")
	if err != nil || head != "l" || tail != "ua" {
		t.Fatalf("unexpected split %q %q, %v", head, tail, err)
	}
}

func TestCompiledScriptReusesArtifact(t *testing.T) {
	engine := newTestEngine(t, Config{})
	source := `
local n = 0
function bump() n = n + 1; return n end
return bump
`
	first, err := engine.Compile(nil, source)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	second, err := engine.Compile(nil, source)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if first.Artifact() != second.Artifact() {
		t.Fatalf("expected identical artifacts")
	}

	bumpA, err := first.Run(nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	bumpB, err := first.Run(nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	call := func(v any) any {
		t.Helper()
		fn, ok := v.(*Function)
		if !ok {
			t.Fatalf("expected *Function, got %T", v)
		}
		got, err := fn.Call(context.Background(), nil)
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		return got
	}
	call(bumpA)
	if got := call(bumpA); got != 2.0 {
		t.Fatalf("expected instance state to persist, got %v", got)
	}
	if got := call(bumpB); got != 1.0 {
		t.Fatalf("expected independent instance state, got %v", got)
	}
}

func TestScriptsCallEachOther(t *testing.T) {
	engine := newTestEngine(t, Config{})
	evalScript(t, engine, nil, `function double(x) return x * 2 end`)
	evalScript(t, engine, nil, `function quad(x) return double(double(x)) end`)

	got, err := engine.InvokeFunction("quad", 3)
	if err != nil {
		t.Fatalf("invoke quad: %v", err)
	}
	if got != 12.0 {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestGlobalVariablesLiveInContext(t *testing.T) {
	engine := newTestEngine(t, Config{})
	sc := moon.NewContext()
	_ = sc.SetAttribute("limit", 10, moon.ScopeGlobal)

	evalScript(t, engine, sc, `total = 5; limit = limit + 1`)
	if v, _ := sc.AttributeIn("total", moon.ScopeEngine); v != 5.0 {
		t.Fatalf("expected total in engine scope, got %v", v)
	}
	if v, _ := sc.AttributeIn("limit", moon.ScopeGlobal); v != 11.0 {
		t.Fatalf("expected limit updated in global scope, got %v", v)
	}
	if got := evalScript(t, engine, sc, `return total + limit`); got != 16.0 {
		t.Fatalf("unexpected sum: %v", got)
	}
}

func TestPrintAndOutWriteToContextWriter(t *testing.T) {
	engine := newTestEngine(t, Config{})
	sc := moon.NewContext()
	var buf bytes.Buffer
	sc.SetWriter(&buf)

	evalScript(t, engine, sc, `print("hello", 1, true); out:write("raw\n")`)
	if got := buf.String(); got != "hello\t1\ttrue\nraw\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestContextIsVisibleToScripts(t *testing.T) {
	engine := newTestEngine(t, Config{})
	sc := moon.NewContext()
	got := evalScript(t, engine, sc, `return context`)
	if got != sc {
		t.Fatalf("expected the script context, got %T", got)
	}
}

func TestGoErrorsKeepIdentity(t *testing.T) {
	engine := newTestEngine(t, Config{})
	sentinel := errors.New("disk full")
	sc := engine.Context()
	_ = sc.SetAttribute("save", func() error { return sentinel }, moon.ScopeEngine)
	evalScript(t, engine, nil, `function persist() save() end`)

	_, err := engine.InvokeFunction("persist")
	var ie *moon.InvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected invocation error, got %v", err)
	}
	if ie.Cause != sentinel {
		t.Fatalf("expected original Go error, got %#v", ie.Cause)
	}
}

func TestLuaErrorsBecomeScriptErrors(t *testing.T) {
	engine := newTestEngine(t, Config{})
	evalScript(t, engine, nil, `function fail() error("nope") end`)

	_, err := engine.InvokeFunction("fail")
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected script error, got %v", err)
	}
	if !strings.Contains(se.Message, "nope") {
		t.Fatalf("unexpected message %q", se.Message)
	}
	if errors.Is(err, moon.ErrNoSuchMethod) {
		t.Fatalf("a raised error is not a missing method")
	}
}

func TestPCallSeesGoErrors(t *testing.T) {
	engine := newTestEngine(t, Config{})
	sentinel := errors.New("denied")
	sc := moon.NewContext()
	_ = sc.SetAttribute("guard", func() error { return sentinel }, moon.ScopeEngine)

	got := evalScript(t, engine, sc, `
local ok, err = pcall(guard)
return ok, tostring(err)
`)
	if diff := cmp.Diff(moon.Tuple{false, "denied"}, got); diff != "" {
		t.Fatalf("unexpected pcall result (-want +got):\n%s", diff)
	}
}

func TestUndefinedNames(t *testing.T) {
	engine := newTestEngine(t, Config{})
	_, err := engine.Eval(nil, `return missing_value`)
	if !errors.Is(err, moon.ErrMissingVariable) {
		t.Fatalf("expected missing variable, got %v", err)
	}

	_, err = engine.InvokeFunction("never_defined")
	var mme *moon.MissingMethodError
	if !errors.As(err, &mme) {
		t.Fatalf("expected missing method, got %v", err)
	}
}

func TestMemberDefinedOnlyAfterRun(t *testing.T) {
	engine := newTestEngine(t, Config{})
	_, err := engine.Eval(nil, `
function early() return "early" end
error("stop before late")
function late() return "late" end
`)
	if err == nil {
		t.Fatalf("expected the script to fail")
	}
	if got, err := engine.InvokeFunction("early"); err != nil || got != "early" {
		t.Fatalf("unexpected early result %v, %v", got, err)
	}
	if _, err := engine.InvokeFunction("late"); !errors.Is(err, moon.ErrNoSuchMethod) {
		t.Fatalf("expected late to be missing, got %v", err)
	}
}

func TestCompileErrors(t *testing.T) {
	engine := newTestEngine(t, Config{})
	_, err := engine.Eval(nil, `function (`)
	if !errors.Is(err, moon.ErrCompile) {
		t.Fatalf("expected compile error, got %v", err)
	}
	if engine.CachedArtifacts() != 0 {
		t.Fatalf("failed compilations must not be cached")
	}
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) Add(delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += delta
	return c.n
}

func TestGoValuesExposeMethods(t *testing.T) {
	engine := newTestEngine(t, Config{})
	sc := moon.NewContext()
	c := &counter{}
	_ = sc.SetAttribute("counter", c, moon.ScopeEngine)

	got := evalScript(t, engine, sc, `counter:add(2); return counter.add(3)`)
	if got != 5.0 {
		t.Fatalf("unexpected result: %v", got)
	}
	if _, err := engine.Eval(sc, `return counter:nope()`); !errors.Is(err, moon.ErrNoSuchMethod) {
		t.Fatalf("expected missing Go method, got %v", err)
	}
}

func TestGoCallbacksReenterTheInstance(t *testing.T) {
	engine := newTestEngine(t, Config{})
	sc := moon.NewContext()
	_ = sc.SetAttribute("apply", func(ctx context.Context, fn moon.Callable, v float64) (any, error) {
		return fn.Call(ctx, []any{v})
	}, moon.ScopeEngine)
	_ = sc.SetAttribute("twice", func(fn func(float64) float64, v float64) float64 {
		return fn(fn(v))
	}, moon.ScopeEngine)

	got := evalScript(t, engine, sc, `
local function sq(x) return x * x end
return apply(sq, 3) + twice(sq, 2)
`)
	if got != 25.0 {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestConcurrentEvaluation(t *testing.T) {
	engine := newTestEngine(t, Config{})
	source := `
function shared(x) return x + 1 end
return seed * 2
`
	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sc := moon.NewContext()
			if err := sc.SetAttribute("seed", i, moon.ScopeEngine); err != nil {
				errs <- err
				return
			}
			got, err := engine.Eval(sc, source)
			if err != nil {
				errs <- err
				return
			}
			if got != float64(i*2) {
				errs <- fmt.Errorf("worker %d got %v", i, got)
				return
			}
			v, err := engine.InvokeFunction("shared", i)
			if err != nil {
				errs <- err
				return
			}
			if v != float64(i+1) {
				errs <- fmt.Errorf("shared(%d) = %v", i, v)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent evaluation: %v", err)
	}
	if got := engine.CachedArtifacts(); got != 1 {
		t.Fatalf("expected one cached artifact, got %d", got)
	}
}

func TestInstantiatedScriptIsAReceiver(t *testing.T) {
	engine := newTestEngine(t, Config{})
	evalScript(t, engine, nil, `function shared(x) return "shared " .. x end`)

	compiled, err := engine.Compile(nil, `
local calls = 0
function bump() calls = calls + 1 return calls end
`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	obj, err := compiled.Instantiate(nil)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	ctx := context.Background()
	for want := 1.0; want <= 2; want++ {
		got, err := engine.Invoke(ctx, nil, obj, "bump")
		if err != nil || got != want {
			t.Fatalf("bump = %v, %v; want %v", got, err, want)
		}
	}
	got, err := engine.Invoke(ctx, nil, obj, "shared", "x")
	if err != nil || got != "shared x" {
		t.Fatalf("fallback through the receiver = %v, %v", got, err)
	}
	if _, err := engine.Invoke(ctx, nil, obj, "absent"); !errors.Is(err, moon.ErrNoSuchMethod) {
		t.Fatalf("expected missing method, got %v", err)
	}
}
