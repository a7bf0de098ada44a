package lua

import (
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/mgomes/moonhost/moon"
)

// Chunk returns the statements of a unit compiled by this package.
func Chunk(unit *moon.Unit) ([]ast.Stmt, error) {
	stmts, ok := unit.Tree.([]ast.Stmt)
	if !ok {
		return nil, fmt.Errorf("lua: unit %s holds a %T, not a Lua chunk", unit.Name, unit.Tree)
	}
	return stmts, nil
}

// Prepend returns a customizer that runs source before the unit's own
// statements.
func Prepend(source string) moon.Customizer {
	return moon.CustomizerFunc(func(unit *moon.Unit) error {
		stmts, err := Chunk(unit)
		if err != nil {
			return err
		}
		prelude, err := parse.Parse(strings.NewReader(source), unit.Name+":prelude")
		if err != nil {
			return fmt.Errorf("prelude: %s", strings.TrimSpace(err.Error()))
		}
		unit.Tree = append(prelude, stmts...)
		return nil
	})
}

// Strict returns a customizer that rejects top-level assignments of
// non-function values to globals.
func Strict() moon.Customizer {
	return moon.CustomizerFunc(func(unit *moon.Unit) error {
		stmts, err := Chunk(unit)
		if err != nil {
			return err
		}
		locals := make(map[string]struct{})
		for _, stmt := range stmts {
			if local, ok := stmt.(*ast.LocalAssignStmt); ok {
				for _, name := range local.Names {
					locals[name] = struct{}{}
				}
				continue
			}
			assign, ok := stmt.(*ast.AssignStmt)
			if !ok {
				continue
			}
			for i, lhs := range assign.Lhs {
				ident, ok := lhs.(*ast.IdentExpr)
				if !ok {
					continue
				}
				if _, local := locals[ident.Value]; local {
					continue
				}
				if i < len(assign.Rhs) {
					if _, isFn := assign.Rhs[i].(*ast.FunctionExpr); isFn {
						continue
					}
				}
				return fmt.Errorf("strict: global assignment to %s at line %d", ident.Value, assign.Line())
			}
		}
		return nil
	})
}
