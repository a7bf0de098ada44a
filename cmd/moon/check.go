package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/mgomes/moonhost/moon"
)

type lintWarning struct {
	Function string
	Line     int
	Message  string
}

// shadowedGlobals are standard names a top-level function definition should
// not replace.
var shadowedGlobals = map[string]struct{}{
	"assert": {}, "error": {}, "getmetatable": {}, "ipairs": {}, "next": {},
	"pairs": {}, "pcall": {}, "print": {}, "rawequal": {}, "rawget": {},
	"rawset": {}, "select": {}, "setmetatable": {}, "tonumber": {},
	"tostring": {}, "type": {}, "unpack": {}, "xpcall": {},
	"math": {}, "string": {}, "table": {}, "os": {}, "io": {},
	moon.OutputName: {}, moon.ContextName: {},
}

func checkCommand(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	configPath := fs.String("config", "", "YAML configuration file")
	quiet := fs.Bool("q", false, "only print issues")
	if err := fs.Parse(args); err != nil {
		return err
	}

	targets := fs.Args()
	if len(targets) == 0 {
		return errors.New("moon check: path required")
	}
	files, err := collectScripts(targets)
	if err != nil {
		return err
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

	issues := 0
	for _, path := range files {
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if err := s.context.SetAttribute(moon.FilenameAttribute, name, moon.ScopeEngine); err != nil {
			return err
		}
		compiled, err := s.engine.Compile(s.context, string(input))
		if err != nil {
			fmt.Printf("%s: %v\n", path, err)
			issues++
			continue
		}
		if !*quiet {
			members := compiled.Artifact().Members()
			if len(members) == 0 {
				fmt.Printf("%s: no functions\n", path)
			} else {
				fmt.Printf("%s: %s\n", path, strings.Join(members, ", "))
			}
		}

		warnings, err := lintSource(string(input), name)
		if err != nil {
			return fmt.Errorf("lint %s: %w", path, err)
		}
		for _, warning := range warnings {
			line := warning.Line
			if line <= 0 {
				line = 1
			}
			fmt.Printf("%s:%d: %s (%s)\n", path, line, warning.Message, warning.Function)
		}
		issues += len(warnings)
	}

	if issues > 0 {
		return fmt.Errorf("check found %d issue(s)", issues)
	}
	if !*quiet {
		fmt.Println("No issues found")
	}
	return nil
}

// lintSource reports redefined top-level functions and functions that
// replace standard globals.
func lintSource(source, name string) ([]lintWarning, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, errors.New(strings.TrimSpace(err.Error()))
	}

	warnings := make([]lintWarning, 0)
	defined := make(map[string]int)
	locals := make(map[string]struct{})
	record := func(fn string, line int) {
		if _, local := locals[fn]; local {
			return
		}
		if first, dup := defined[fn]; dup {
			warnings = append(warnings, lintWarning{
				Function: fn,
				Line:     line,
				Message:  fmt.Sprintf("function redefined (first defined at line %d)", first),
			})
			return
		}
		defined[fn] = line
		if _, std := shadowedGlobals[fn]; std {
			warnings = append(warnings, lintWarning{
				Function: fn,
				Line:     line,
				Message:  "function shadows a standard global",
			})
		}
	}

	for _, stmt := range chunk {
		switch s := stmt.(type) {
		case *ast.LocalAssignStmt:
			for _, n := range s.Names {
				locals[n] = struct{}{}
			}
		case *ast.FuncDefStmt:
			if s.Name == nil || s.Name.Func == nil {
				continue
			}
			if ident, ok := s.Name.Func.(*ast.IdentExpr); ok {
				record(ident.Value, s.Line())
			}
		case *ast.AssignStmt:
			for i, lhs := range s.Lhs {
				ident, ok := lhs.(*ast.IdentExpr)
				if !ok || i >= len(s.Rhs) {
					continue
				}
				if _, isFn := s.Rhs[i].(*ast.FunctionExpr); isFn {
					record(ident.Value, s.Line())
				}
			}
		}
	}

	sort.SliceStable(warnings, func(i, j int) bool {
		if warnings[i].Line != warnings[j].Line {
			return warnings[i].Line < warnings[j].Line
		}
		return warnings[i].Function < warnings[j].Function
	})
	return warnings, nil
}

func collectScripts(targets []string) ([]string, error) {
	seen := make(map[string]struct{})
	files := make([]string, 0)
	addFile := func(path string, explicit bool) {
		if !explicit && filepath.Ext(path) != ".lua" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		files = append(files, abs)
	}

	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", target, err)
		}
		if !info.IsDir() {
			addFile(target, true)
			continue
		}
		err = filepath.WalkDir(target, func(path string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if entry.IsDir() {
				return nil
			}
			addFile(path, false)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", target, err)
		}
	}

	sort.Strings(files)
	return files, nil
}
