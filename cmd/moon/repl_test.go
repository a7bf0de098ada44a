package main

import (
	"bytes"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mgomes/moonhost/moon"
)

func newTestSession(t *testing.T) (*session, *bytes.Buffer) {
	t.Helper()
	out := new(bytes.Buffer)
	s, err := newSession(defaultConfig(), out)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	t.Cleanup(s.close)
	return s, out
}

func TestREPLQuitCommand(t *testing.T) {
	s, out := newTestSession(t)
	m := newREPLModel(s, out)
	m.textInput.SetValue(":quit")

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	rm := model.(replModel)
	if !rm.quitting {
		t.Fatalf("expected quitting state")
	}
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
}

func TestREPLToggles(t *testing.T) {
	s, out := newTestSession(t)
	m := newREPLModel(s, out)

	for _, input := range []string{":help", ":vars", ":funcs"} {
		m.textInput.SetValue(input)
		model, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = model.(replModel)
	}
	if !m.showHelp || !m.showVars || !m.showFuncs {
		t.Fatalf("expected all panels shown: help=%v vars=%v funcs=%v", m.showHelp, m.showVars, m.showFuncs)
	}
	if m.textInput.Value() != "" {
		t.Fatalf("expected input cleared, got %q", m.textInput.Value())
	}
}

func TestREPLUnknownCommand(t *testing.T) {
	s, out := newTestSession(t)
	m := newREPLModel(s, out)
	m.textInput.SetValue(":bogus")

	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	rm := model.(replModel)
	if len(rm.history) != 1 || !rm.history[0].isErr {
		t.Fatalf("expected error history entry, got %+v", rm.history)
	}
	if rm.history[0].output != "Unknown command: :bogus" {
		t.Fatalf("unexpected output %q", rm.history[0].output)
	}
}

func TestREPLEvaluatesAndRecordsHistory(t *testing.T) {
	s, out := newTestSession(t)
	m := newREPLModel(s, out)

	for _, input := range []string{"function sq(x) return x * x end", "sq(4)"} {
		m.textInput.SetValue(input)
		model, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = model.(replModel)
	}
	if len(m.history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(m.history))
	}
	last := m.history[1]
	if last.isErr || last.output != "16" {
		t.Fatalf("unexpected result %+v", last)
	}
	if len(m.cmdHistory) != 2 {
		t.Fatalf("expected command history, got %v", m.cmdHistory)
	}

	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = model.(replModel)
	if m.textInput.Value() != "sq(4)" {
		t.Fatalf("expected previous command, got %q", m.textInput.Value())
	}
}

func TestREPLResetClearsVariables(t *testing.T) {
	s, out := newTestSession(t)
	m := newREPLModel(s, out)

	if _, isErr := evaluate(s, out, "answer = 42"); isErr {
		t.Fatalf("assignment failed")
	}
	if _, ok := s.context.Attribute("answer"); !ok {
		t.Fatalf("expected answer in context")
	}

	m.textInput.SetValue(":reset")
	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	rm := model.(replModel)
	if len(rm.history) != 1 || rm.history[0].output != "Context reset" {
		t.Fatalf("unexpected history %+v", rm.history)
	}
	if _, ok := s.context.Attribute("answer"); ok {
		t.Fatalf("expected answer to be cleared")
	}
}

func TestREPLAutocomplete(t *testing.T) {
	s, out := newTestSession(t)
	if _, isErr := evaluate(s, out, "function greet_user() return 1 end"); isErr {
		t.Fatalf("define failed")
	}

	m := newREPLModel(s, out)
	m.textInput.SetValue("x = greet_")
	m = m.handleAutocomplete()
	if got := m.textInput.Value(); got != "x = greet_user" {
		t.Fatalf("unexpected completion %q", got)
	}

	m.textInput.SetValue("re")
	m = m.handleAutocomplete()
	if got := m.textInput.Value(); got != "re" {
		t.Fatalf("ambiguous prefix should not complete, got %q", got)
	}
	if len(m.history) == 0 || !strings.Contains(m.history[len(m.history)-1].output, "repeat, return") {
		t.Fatalf("expected completions listed, got %+v", m.history)
	}
}

func TestREPLViewRendersPanels(t *testing.T) {
	s, out := newTestSession(t)
	m := newREPLModel(s, out)
	if m.View() != "Loading..." {
		t.Fatalf("expected loading view before sizing")
	}

	model, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = model.(replModel)
	if _, isErr := evaluate(s, out, "function helper() end"); isErr {
		t.Fatalf("define failed")
	}
	m.showFuncs = true
	view := m.View()
	if !strings.Contains(view, "moon REPL") || !strings.Contains(view, "helper") {
		t.Fatalf("unexpected view:\n%s", view)
	}
}

func TestEvaluate(t *testing.T) {
	s, out := newTestSession(t)

	tests := []struct {
		input string
		want  string
		isErr bool
	}{
		{input: "1 + 2", want: "3"},
		{input: "count = 3", want: "nil"},
		{input: "count * 2", want: "6"},
		{input: "_ + 1", want: "7"},
		{input: "print('hi')", want: "hi"},
		{input: "{1, 'two', {x = true}}", want: `{1, "two", {x = true}}`},
		{input: "1, 2", want: "1, 2"},
		{input: "undefined_name", isErr: true},
		{input: "error('boom')", isErr: true},
	}

	for _, tt := range tests {
		got, isErr := evaluate(s, out, tt.input)
		if isErr != tt.isErr {
			t.Fatalf("%s: isErr=%v output=%q", tt.input, isErr, got)
		}
		if !tt.isErr && got != tt.want {
			t.Fatalf("%s: got %q want %q", tt.input, got, tt.want)
		}
	}
}

func TestContextVariablesInnermostFirst(t *testing.T) {
	sc := moon.NewContext()
	if err := sc.SetAttribute("shared", "engine", moon.ScopeEngine); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := sc.SetAttribute("shared", "global", moon.ScopeGlobal); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := sc.SetAttribute("only", 1, moon.ScopeGlobal); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := sc.SetAttribute(moon.CustomizerAttribute, "hidden", moon.ScopeEngine); err != nil {
		t.Fatalf("set: %v", err)
	}

	vars := contextVariables(sc)
	if len(vars) != 2 {
		t.Fatalf("expected 2 visible variables, got %+v", vars)
	}
	if vars[0].name != "shared" || vars[0].value != "engine" || vars[0].scope != moon.ScopeEngine {
		t.Fatalf("unexpected first variable %+v", vars[0])
	}
	if vars[1].name != "only" || vars[1].scope != moon.ScopeGlobal {
		t.Fatalf("unexpected second variable %+v", vars[1])
	}
}

func TestRunLines(t *testing.T) {
	s, out := newTestSession(t)
	input := strings.NewReader("-- comment\n\nx = 10\nx + 1\nmissing()\n")
	var w bytes.Buffer
	if err := runLines(s, out, input, &w); err != nil {
		t.Fatalf("runLines: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(w.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 output lines, got %q", w.String())
	}
	if lines[0] != "nil" || lines[1] != "11" || !strings.HasPrefix(lines[2], "error: ") {
		t.Fatalf("unexpected output %q", lines)
	}
}
