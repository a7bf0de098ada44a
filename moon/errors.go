package moon

import (
	"errors"
	"fmt"
)

var (
	ErrCompile            = errors.New("moon: compile failed")
	ErrNoSuchMethod       = errors.New("moon: no such method")
	ErrProxyConfiguration = errors.New("moon: invalid proxy configuration")
	ErrMissingVariable    = errors.New("moon: missing variable")
)

// CompileError reports source text the compiler rejected. Nothing is cached
// for a text that fails to compile.
type CompileError struct {
	Name    string
	Message string
	Err     error
}

func (e *CompileError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("moon: compile failed: %s", e.Message)
	}
	return fmt.Sprintf("moon: compile %s: %s", e.Name, e.Message)
}

func (e *CompileError) Is(target error) bool { return target == ErrCompile }

func (e *CompileError) Unwrap() error { return e.Err }

// MissingMethodError means no callable could be resolved for Name. Origin
// names the type the lookup started from.
type MissingMethodError struct {
	Name   string
	Origin string
	Arity  int
}

func (e *MissingMethodError) Error() string {
	origin := e.Origin
	if origin == "" {
		origin = "<global>"
	}
	return fmt.Sprintf("moon: no method %s for %s with %d argument(s)", e.Name, origin, e.Arity)
}

func (e *MissingMethodError) Is(target error) bool { return target == ErrNoSuchMethod }

// InvocationError wraps the cause of a method that was found but failed while
// running.
type InvocationError struct {
	Name  string
	Cause error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("moon: invoking %s: %v", e.Name, e.Cause)
}

func (e *InvocationError) Unwrap() error { return e.Cause }

// CallError is returned by callables that were found but failed. Dispatch
// unwraps exactly one CallError before reporting the cause.
type CallError struct {
	Cause error
}

func (e *CallError) Error() string { return e.Cause.Error() }

func (e *CallError) Unwrap() error { return e.Cause }

// Fail marks err as raised by a callable that was found. A nil err stays nil.
func Fail(err error) error {
	if err == nil {
		return nil
	}
	return &CallError{Cause: err}
}

func unwrapCall(err error) error {
	if ce, ok := err.(*CallError); ok {
		return ce.Cause
	}
	return err
}

type ProxyConfigError struct {
	Type   string
	Reason string
}

func (e *ProxyConfigError) Error() string {
	return fmt.Sprintf("moon: cannot proxy %s: %s", e.Type, e.Reason)
}

func (e *ProxyConfigError) Is(target error) bool { return target == ErrProxyConfiguration }

type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("moon: no such variable %s", e.Name)
}

func (e *MissingVariableError) Is(target error) bool { return target == ErrMissingVariable }
