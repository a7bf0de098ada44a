package moon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Config wires an Engine to its compiler and ambient services.
type Config struct {
	Compiler Compiler
	// Context is the default context used when a call passes nil. A fresh
	// SimpleContext is created when unset.
	Context ScriptContext
	Logger  *zap.Logger
	Metrics *Metrics
}

// Engine compiles, caches and evaluates scripts and dispatches host calls to
// the functions they define.
type Engine struct {
	config   Config
	cache    *artifactCache
	registry *Registry
	resolver *Resolver
	logger   *zap.Logger

	mu      sync.RWMutex
	context ScriptContext
}

const engineOrigin = "*moon.Engine"

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Compiler == nil {
		return nil, errors.New("moon: compiler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Context == nil {
		cfg.Context = NewContext()
	}
	logger := cfg.Logger.Named("moon")
	registry := newRegistry(logger, cfg.Metrics)
	return &Engine{
		config:   cfg,
		cache:    newArtifactCache(cfg.Compiler, logger, cfg.Metrics),
		registry: registry,
		resolver: newResolver(registry, engineOrigin, logger, cfg.Metrics),
		logger:   logger,
		context:  cfg.Context,
	}, nil
}

// MustNewEngine constructs an Engine or panics when the configuration is invalid.
func MustNewEngine(cfg Config) *Engine {
	engine, err := NewEngine(cfg)
	if err != nil {
		panic(err)
	}
	return engine
}

// Context returns the engine's default context.
func (e *Engine) Context() ScriptContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.context
}

func (e *Engine) SetContext(sc ScriptContext) {
	if sc == nil {
		sc = NewContext()
	}
	e.mu.Lock()
	e.context = sc
	e.mu.Unlock()
}

func (e *Engine) resolve(sc ScriptContext) ScriptContext {
	if sc != nil {
		return sc
	}
	return e.Context()
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Resolver() *Resolver { return e.resolver }

// Functions lists the names in the global registry.
func (e *Engine) Functions() []string { return e.registry.Names() }

// CachedArtifacts reports how many distinct source texts are cached.
func (e *Engine) CachedArtifacts() int { return e.cache.len() }

// Eval compiles source, or reuses its cached artifact, and runs a fresh
// instance of it against sc.
func (e *Engine) Eval(sc ScriptContext, source string) (any, error) {
	sc = e.resolve(sc)
	art, err := e.cache.getOrCompile(source, sc)
	if err != nil {
		return nil, err
	}
	return e.run(context.Background(), art, sc)
}

// EvalReader reads the whole of r and evaluates it.
func (e *Engine) EvalReader(sc ScriptContext, r io.Reader) (any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return e.Eval(sc, string(data))
}

// CompiledScript is a cached artifact that can be run any number of times
// without recompiling.
type CompiledScript struct {
	engine   *Engine
	artifact Artifact
}

func (e *Engine) Compile(sc ScriptContext, source string) (*CompiledScript, error) {
	art, err := e.cache.getOrCompile(source, e.resolve(sc))
	if err != nil {
		return nil, err
	}
	return &CompiledScript{engine: e, artifact: art}, nil
}

func (s *CompiledScript) Artifact() Artifact { return s.artifact }

func (s *CompiledScript) Engine() *Engine { return s.engine }

func (s *CompiledScript) Run(sc ScriptContext) (any, error) {
	return s.engine.run(context.Background(), s.artifact, s.engine.resolve(sc))
}

// Instantiate runs a fresh instance of the script against sc and returns it
// as a receiver for Invoke. Names the instance does not define fall back to
// the global registry and sc.
func (s *CompiledScript) Instantiate(sc ScriptContext) (*ScriptObject, error) {
	obj, _, err := s.engine.instantiate(context.Background(), s.artifact, s.engine.resolve(sc))
	return obj, err
}

func (e *Engine) run(ctx context.Context, art Artifact, sc ScriptContext) (any, error) {
	_, v, err := e.instantiate(ctx, art, sc)
	return v, err
}

func (e *Engine) instantiate(ctx context.Context, art Artifact, sc ScriptContext) (*ScriptObject, any, error) {
	env := &Env{Binding: NewBinding(sc), Name: art.Name(), resolver: e.resolver}
	inst, err := art.NewInstance(env)
	if err != nil {
		return nil, nil, &InvocationError{Name: art.Name(), Cause: unwrapCall(err)}
	}
	obj := &ScriptObject{artifact: art, instance: inst, env: env}
	e.registry.RegisterAll(inst, art.Members())

	v, err := obj.Run(ctx)
	if err != nil {
		return nil, nil, &InvocationError{Name: art.Name(), Cause: unwrapCall(err)}
	}
	return obj, v, nil
}

// Invoke calls name on receiver, or as a global function when receiver is
// nil. It returns a *MissingMethodError when nothing resolves and an
// *InvocationError wrapping the cause when the resolved callable fails.
func (e *Engine) Invoke(ctx context.Context, sc ScriptContext, receiver any, name string, args ...any) (any, error) {
	if name == "" {
		return nil, fmt.Errorf("moon: method name is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	out := e.resolver.Invoke(ctx, receiver, name, Tuple(args), e.resolve(sc))
	switch out.Kind {
	case Resolved:
		return out.Value, nil
	case NotFound:
		return nil, out.Err
	default:
		return nil, &InvocationError{Name: name, Cause: out.Err}
	}
}

// InvokeFunction calls a global function against the default context.
func (e *Engine) InvokeFunction(name string, args ...any) (any, error) {
	return e.Invoke(context.Background(), nil, nil, name, args...)
}

// InvokeMethod calls name on receiver against the default context.
func (e *Engine) InvokeMethod(receiver any, name string, args ...any) (any, error) {
	if receiver == nil {
		return nil, fmt.Errorf("moon: receiver is nil")
	}
	return e.Invoke(context.Background(), nil, receiver, name, args...)
}
