package moon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"
)

// envFunc is a fake member that needs the instance environment.
type envFunc func(ctx context.Context, env *Env, args []any) (any, error)

type fakeScript struct {
	members map[string]any
	run     func(ctx context.Context, env *Env) (any, error)
}

type fakeCompiler struct {
	scripts  map[string]fakeScript
	compiles atomic.Int32

	mu      sync.Mutex
	configs []CompilerConfig
	names   []string
}

func (c *fakeCompiler) Extension() string { return ".fake" }

func (c *fakeCompiler) Compile(source, name string, cfg CompilerConfig) (Artifact, error) {
	c.compiles.Add(1)
	c.mu.Lock()
	c.configs = append(c.configs, cfg)
	c.names = append(c.names, name)
	c.mu.Unlock()

	unit := &Unit{Name: name, Source: source, Base: cfg.Base}
	for _, cust := range cfg.Customizers {
		if err := cust.Customize(unit); err != nil {
			return nil, err
		}
	}
	script, ok := c.scripts[source]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", source)
	}
	return &fakeArtifact{name: name, script: script}, nil
}

func (c *fakeCompiler) lastConfig() CompilerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configs[len(c.configs)-1]
}

func (c *fakeCompiler) lastName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.names[len(c.names)-1]
}

type fakeArtifact struct {
	name      string
	script    fakeScript
	instances atomic.Int32
}

func (a *fakeArtifact) Name() string { return a.name }

func (a *fakeArtifact) Members() []string {
	names := make([]string, 0, len(a.script.members))
	for name := range a.script.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *fakeArtifact) NewInstance(env *Env) (Instance, error) {
	a.instances.Add(1)
	return &fakeInstance{artifact: a, env: env}, nil
}

type fakeInstance struct {
	artifact *fakeArtifact
	env      *Env
}

func (i *fakeInstance) Invoke(ctx context.Context, name string, args []any) (any, error) {
	member, ok := i.artifact.script.members[name]
	if !ok {
		return nil, &MissingMethodError{Name: name, Origin: i.artifact.name, Arity: len(args)}
	}
	if fn, ok := member.(envFunc); ok {
		v, err := fn(ctx, i.env, args)
		return v, Fail(err)
	}
	c, ok := AsCallable(member)
	if !ok {
		return nil, fmt.Errorf("member %s is not callable", name)
	}
	return c.Call(ctx, args)
}

func (i *fakeInstance) Run(ctx context.Context) (any, error) {
	if i.artifact.script.run == nil {
		return nil, nil
	}
	return i.artifact.script.run(ctx, i.env)
}

func newFakeEngine(t *testing.T, scripts map[string]fakeScript) (*Engine, *fakeCompiler) {
	t.Helper()
	compiler := &fakeCompiler{scripts: scripts}
	engine, err := NewEngine(Config{Compiler: compiler, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, compiler
}

func mustEval(t *testing.T, engine *Engine, sc ScriptContext, source string) any {
	t.Helper()
	v, err := engine.Eval(sc, source)
	if err != nil {
		t.Fatalf("eval %q: %v", source, err)
	}
	return v
}
