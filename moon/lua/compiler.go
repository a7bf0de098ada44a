package lua

import (
	"fmt"
	"strings"

	glua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/mgomes/moonhost/moon"
)

// Base is a named set of members every instance compiled against it can see.
// Values are converted to Lua on first use; Go funcs and moon.Callables become
// Lua functions.
type Base map[string]any

// Config selects the libraries and bases available to compiled scripts.
type Config struct {
	// Libraries lists the gopher-lua standard libraries opened in every
	// instance. Nil means DefaultLibraries.
	Libraries []string
	Bases     map[string]Base
	// DefaultBase is used when the context does not select a base.
	DefaultBase string
}

var DefaultLibraries = []string{"base", "table", "string", "math"}

var libraryOpeners = map[string]struct {
	name string
	open glua.LGFunction
}{
	"base":      {glua.BaseLibName, glua.OpenBase},
	"package":   {glua.LoadLibName, glua.OpenPackage},
	"table":     {glua.TabLibName, glua.OpenTable},
	"string":    {glua.StringLibName, glua.OpenString},
	"math":      {glua.MathLibName, glua.OpenMath},
	"os":        {glua.OsLibName, glua.OpenOs},
	"io":        {glua.IoLibName, glua.OpenIo},
	"debug":     {glua.DebugLibName, glua.OpenDebug},
	"channel":   {glua.ChannelLibName, glua.OpenChannel},
	"coroutine": {glua.CoroutineLibName, glua.OpenCoroutine},
}

// Compiler compiles Lua source into moon artifacts.
type Compiler struct {
	config Config
}

func NewCompiler(cfg Config) (*Compiler, error) {
	if cfg.Libraries == nil {
		cfg.Libraries = DefaultLibraries
	}
	libs := make([]string, 0, len(cfg.Libraries))
	seen := make(map[string]struct{}, len(cfg.Libraries))
	for _, lib := range cfg.Libraries {
		lib = strings.ToLower(strings.TrimSpace(lib))
		if _, ok := libraryOpeners[lib]; !ok {
			return nil, fmt.Errorf("lua: unknown library %q", lib)
		}
		if _, dup := seen[lib]; dup {
			continue
		}
		seen[lib] = struct{}{}
		libs = append(libs, lib)
	}
	cfg.Libraries = libs
	if cfg.DefaultBase != "" {
		if _, ok := cfg.Bases[cfg.DefaultBase]; !ok {
			return nil, fmt.Errorf("lua: default base %q is not defined", cfg.DefaultBase)
		}
	}
	return &Compiler{config: cfg}, nil
}

// MustNewCompiler is NewCompiler that panics on an invalid configuration.
func MustNewCompiler(cfg Config) *Compiler {
	c, err := NewCompiler(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Compiler) Extension() string { return ".lua" }

func (c *Compiler) Compile(source, name string, cfg moon.CompilerConfig) (moon.Artifact, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, &moon.CompileError{Name: name, Message: strings.TrimSpace(err.Error()), Err: err}
	}

	baseName := cfg.Base
	if baseName == "" {
		baseName = c.config.DefaultBase
	}
	var base Base
	if baseName != "" {
		var ok bool
		if base, ok = c.config.Bases[baseName]; !ok {
			return nil, &moon.CompileError{Name: name, Message: fmt.Sprintf("unknown script base %q", baseName)}
		}
	}

	unit := &moon.Unit{Name: name, Source: source, Base: baseName, Tree: chunk}
	for _, cust := range cfg.Customizers {
		if err := cust.Customize(unit); err != nil {
			return nil, &moon.CompileError{Name: name, Message: err.Error(), Err: err}
		}
	}
	stmts, ok := unit.Tree.([]ast.Stmt)
	if !ok {
		return nil, &moon.CompileError{Name: name, Message: fmt.Sprintf("customizer left a %T syntax tree", unit.Tree)}
	}

	proto, err := glua.Compile(stmts, name)
	if err != nil {
		return nil, &moon.CompileError{Name: name, Message: err.Error(), Err: err}
	}
	return &Artifact{
		name:      name,
		proto:     proto,
		members:   collectMembers(stmts),
		base:      base,
		libraries: c.config.Libraries,
	}, nil
}

// collectMembers returns the names of top-level global function definitions
// in declaration order. Names shadowed by a top-level local are skipped.
func collectMembers(stmts []ast.Stmt) []string {
	var members []string
	seen := make(map[string]struct{})
	locals := make(map[string]struct{})
	add := func(name string) {
		if _, local := locals[name]; local {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		members = append(members, name)
	}
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.LocalAssignStmt:
			for _, name := range s.Names {
				locals[name] = struct{}{}
			}
		case *ast.FuncDefStmt:
			if s.Name == nil || s.Name.Func == nil {
				continue
			}
			if ident, ok := s.Name.Func.(*ast.IdentExpr); ok {
				add(ident.Value)
			}
		case *ast.AssignStmt:
			for i, lhs := range s.Lhs {
				ident, ok := lhs.(*ast.IdentExpr)
				if !ok || i >= len(s.Rhs) {
					continue
				}
				if _, ok := s.Rhs[i].(*ast.FunctionExpr); ok {
					add(ident.Value)
				}
			}
		}
	}
	return members
}
