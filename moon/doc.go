// Package moon embeds a scripting language in a Go host. It owns the parts
// of script hosting that do not depend on the language:
//   - a compilation cache keyed by exact source text, so each distinct text
//     is compiled once and shared by every evaluation;
//   - a Binding that exposes a multi-scope ScriptContext to one script
//     instance, with the synthetic names "out" and "context";
//   - a global Registry of functions, where the first script to define a
//     name keeps it for the life of the engine;
//   - a Resolver that routes bare name calls to a receiver, the registry or
//     a callable context attribute, distinguishing "not found" from "found
//     but failed";
//   - proxies that satisfy capability sets through the resolver, falling back
//     to declared default implementations.
//
// The language itself is supplied by a Compiler; package moon/lua provides
// one backed by gopher-lua.
package moon
