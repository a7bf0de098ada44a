package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mgomes/moonhost/moon"
	"github.com/mgomes/moonhost/moon/lua"
	"github.com/mgomes/moonhost/moon/store"
)

// session is one engine with its context, configured from the CLI config.
type session struct {
	config   cliConfig
	logger   *zap.Logger
	registry *prometheus.Registry
	engine   *moon.Engine
	context  *moon.SimpleContext
	state    *store.Bindings
	server   *http.Server
}

func newSession(cfg cliConfig, out io.Writer) (*session, error) {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	bases := make(map[string]lua.Base, len(cfg.Lua.Bases))
	for name, members := range cfg.Lua.Bases {
		bases[name] = lua.Base(members)
	}
	compiler, err := lua.NewCompiler(lua.Config{
		Libraries:   cfg.Lua.Libraries,
		Bases:       bases,
		DefaultBase: cfg.Lua.Base,
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := moon.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	sc := moon.NewContext()
	sc.SetWriter(out)
	if cfg.Lua.Strict {
		if err := sc.SetAttribute(moon.CustomizerAttribute, lua.Strict(), moon.ScopeEngine); err != nil {
			return nil, err
		}
	}

	s := &session{config: cfg, logger: logger, registry: registry, context: sc}
	if cfg.State.Path != "" {
		state, err := store.Open(cfg.State.Path, cfg.State.Bucket, logger)
		if err != nil {
			return nil, err
		}
		if err := sc.SetBindings(moon.ScopeGlobal, state); err != nil {
			state.Close()
			return nil, err
		}
		s.state = state
	}

	s.engine, err = moon.NewEngine(moon.Config{
		Compiler: compiler,
		Context:  sc,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// serveMetrics exposes /metrics on the configured address until the session
// is closed. It returns the address actually bound.
func (s *session) serveMetrics() (string, error) {
	if s.config.Metrics.Addr == "" {
		return "", nil
	}
	ln, err := net.Listen("tcp", s.config.Metrics.Addr)
	if err != nil {
		return "", fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// reset replaces the context's engine scope, keeping the global scope and
// compile settings.
func (s *session) reset() error {
	fresh := moon.NewMapBindings(nil)
	if v, ok := s.context.AttributeIn(moon.CustomizerAttribute, moon.ScopeEngine); ok {
		if err := fresh.Put(moon.CustomizerAttribute, v); err != nil {
			return err
		}
	}
	return s.context.SetBindings(moon.ScopeEngine, fresh)
}

func (s *session) close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.server.Shutdown(ctx)
		cancel()
	}
	if s.state != nil {
		if err := s.state.Close(); err != nil {
			s.logger.Warn("closing state failed", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}
