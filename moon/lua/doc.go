// Package lua compiles Lua 5.1 source with gopher-lua into artifacts the moon
// engine can cache and run.
//
// Each evaluation runs on its own LState. A chunk's global reads consult, in
// order, its own functions, the selected Base, the opened standard libraries,
// the binding and the engine's global function fallback; global writes of
// function values define members and all other writes go to the binding.
package lua
