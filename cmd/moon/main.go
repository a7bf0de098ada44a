package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mgomes/moonhost/moon"
)

func main() {
	if err := runCLI(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCLI(args []string) error {
	if len(args) < 2 {
		return usageError()
	}
	switch args[1] {
	case "run":
		return runCommand(args[2:])
	case "check":
		return checkCommand(args[2:])
	case "repl":
		return replCommand(args[2:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		return usageError()
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	function := fs.String("function", "", "function to invoke after the script runs")
	filename := fs.String("filename", "", "script name reported in errors (defaults to the file name)")
	configPath := fs.String("config", "", "YAML configuration file")
	var defines defineList
	fs.Var(&defines, "define", "set a context variable name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	remaining := fs.Args()
	if len(remaining) == 0 {
		return errors.New("moon run: script path required")
	}

	scriptPath, err := filepath.Abs(remaining[0])
	if err != nil {
		return fmt.Errorf("resolve script path: %w", err)
	}
	input, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	s, err := newSession(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer s.close()

	name := *filename
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(scriptPath), filepath.Ext(scriptPath))
	}
	if err := s.context.SetAttribute(moon.FilenameAttribute, name, moon.ScopeEngine); err != nil {
		return err
	}
	for _, d := range defines {
		if err := s.context.SetAttribute(d.name, d.value, moon.ScopeEngine); err != nil {
			return err
		}
	}

	result, err := s.engine.Eval(s.context, string(input))
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	if *function != "" {
		callArgs := make([]any, len(remaining)-1)
		for i, raw := range remaining[1:] {
			callArgs[i] = raw
		}
		result, err = s.engine.Invoke(context.Background(), s.context, nil, *function, callArgs...)
		if err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
	}
	if result != nil {
		fmt.Println(formatValue(result))
	}
	return nil
}

func usageError() error {
	printUsage()
	return errors.New("invalid command")
}

func printUsage() {
	prog := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags] [args...]\n", prog)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run [flags] <script> [args...]")
	fmt.Fprintln(os.Stderr, "    evaluate a Lua script, optionally invoking one of its functions")
	fmt.Fprintln(os.Stderr, "  check [flags] <path...>")
	fmt.Fprintln(os.Stderr, "    compile scripts and report their functions and issues")
	fmt.Fprintln(os.Stderr, "  repl [flags]")
	fmt.Fprintln(os.Stderr, "    start an interactive session")
	fmt.Fprintln(os.Stderr, "Run flags:")
	fmt.Fprintln(os.Stderr, "  -function string")
	fmt.Fprintln(os.Stderr, "    function to invoke with the remaining arguments")
	fmt.Fprintln(os.Stderr, "  -filename string")
	fmt.Fprintln(os.Stderr, "    script name reported in errors")
	fmt.Fprintln(os.Stderr, "  -define name=value")
	fmt.Fprintln(os.Stderr, "    set a context variable (repeatable)")
	fmt.Fprintln(os.Stderr, "  -config file")
	fmt.Fprintln(os.Stderr, "    YAML configuration file")
}

type flagErrorSink struct{}

func (flagErrorSink) Write(p []byte) (int, error) {
	return len(p), nil
}

type define struct {
	name  string
	value string
}

type defineList []define

func (l *defineList) String() string {
	parts := make([]string, len(*l))
	for i, d := range *l {
		parts[i] = d.name + "=" + d.value
	}
	return strings.Join(parts, ",")
}

func (l *defineList) Set(value string) error {
	name, val, ok := strings.Cut(value, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("define %q: expected name=value", value)
	}
	*l = append(*l, define{name: name, value: val})
	return nil
}
