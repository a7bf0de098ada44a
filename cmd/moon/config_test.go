package main

import (
	"context"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/mgomes/moonhost/moon"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moon.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if diff := cmp.Diff(defaultConfig(), cfg); diff != "" {
		t.Fatalf("unexpected defaults (-want +got):\n%s", diff)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `log:
  level: debug
  max_backups: 9
lua:
  libraries: [base, string]
  base: arith
  bases:
    arith:
      scale: 2
  strict: true
state:
  path: /tmp/state.db
metrics:
  addr: 127.0.0.1:9100
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	want := defaultConfig()
	want.Log.Level = "debug"
	want.Log.MaxBackups = 9
	want.Lua = luaConfig{
		Libraries: []string{"base", "string"},
		Base:      "arith",
		Bases:     map[string]map[string]any{"arith": {"scale": 2}},
		Strict:    true,
	}
	want.State.Path = "/tmp/state.db"
	want.Metrics.Addr = "127.0.0.1:9100"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "syntax", body: "log: [", want: "parse config"},
		{name: "negative rotation", body: "log:\n  max_size_mb: -1\n", want: "must not be negative"},
		{name: "undefined base", body: "lua:\n  base: missing\n", want: `lua base "missing" is not defined`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q error, got %v", tt.want, err)
			}
		})
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moon.log")
	logger, err := newLogger(logConfig{Level: "info", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("compiled script", zap.String("name", "probe.lua"))
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"msg":"compiled script"`) || !strings.Contains(text, `"name":"probe.lua"`) {
		t.Fatalf("unexpected log contents: %s", text)
	}
	if strings.Contains(text, "hidden") {
		t.Fatalf("debug entry should be filtered: %s", text)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger(logConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
}

func TestSessionServesMetrics(t *testing.T) {
	cfg := defaultConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"
	s, err := newSession(cfg, io.Discard)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.close()

	if _, err := s.engine.Eval(s.context, "function probe() end"); err != nil {
		t.Fatalf("eval: %v", err)
	}
	addr, err := s.serveMetrics()
	if err != nil {
		t.Fatalf("serveMetrics: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "moonhost_compile_total") {
		t.Fatalf("expected moon metrics, got:\n%s", body)
	}
}

func TestSessionWithoutMetricsAddr(t *testing.T) {
	s, err := newSession(defaultConfig(), io.Discard)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.close()
	addr, err := s.serveMetrics()
	if err != nil || addr != "" {
		t.Fatalf("expected no server, got %q %v", addr, err)
	}
}

func TestSessionPersistsGlobalState(t *testing.T) {
	cfg := defaultConfig()
	cfg.State.Path = filepath.Join(t.TempDir(), "state.db")

	for i := 0; i < 2; i++ {
		s, err := newSession(cfg, io.Discard)
		if err != nil {
			t.Fatalf("newSession: %v", err)
		}
		if _, ok := s.context.AttributeIn("runs", moon.ScopeGlobal); !ok {
			if err := s.context.SetAttribute("runs", 0, moon.ScopeGlobal); err != nil {
				t.Fatalf("seed: %v", err)
			}
		}
		if _, err := s.engine.Eval(s.context, "runs = runs + 1"); err != nil {
			t.Fatalf("eval: %v", err)
		}
		s.close()
	}

	s, err := newSession(cfg, io.Discard)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.close()
	v, ok := s.context.AttributeIn("runs", moon.ScopeGlobal)
	if !ok || v != float64(2) {
		t.Fatalf("expected runs = 2, got %v (%v)", v, ok)
	}
}

type stringer struct{}

func (stringer) String() string { return "stringer" }

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: "nil"},
		{in: "plain", want: "plain"},
		{in: float64(3), want: "3"},
		{in: 2.5, want: "2.5"},
		{in: math.Inf(1), want: "+Inf"},
		{in: true, want: "true"},
		{in: moon.Tuple{1.0, "a"}, want: `1, a`},
		{in: []any{1.0, "a", []any{}}, want: `{1, "a", {}}`},
		{in: map[string]any{"b": 2.0, "a": "x"}, want: `{a = "x", b = 2}`},
		{in: moon.Func(func(ctx context.Context, args []any) (any, error) { return nil, nil }), want: "function"},
		{in: stringer{}, want: "stringer"},
		{in: 7, want: "7"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Fatalf("formatValue(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
