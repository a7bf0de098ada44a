package moon

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sync"
)

// Scope identifies one layer of a ScriptContext. Lower values are searched
// first.
type Scope int

const (
	NoScope     Scope = -1
	ScopeEngine Scope = 100
	ScopeGlobal Scope = 200
)

func (s Scope) String() string {
	switch s {
	case NoScope:
		return "none"
	case ScopeEngine:
		return "engine"
	case ScopeGlobal:
		return "global"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Bindings is a flat name to value store backing one scope.
type Bindings interface {
	Get(name string) (any, bool)
	Put(name string, value any) error
	Delete(name string) error
	Keys() []string
}

// MapBindings is an in-memory Bindings safe for concurrent use.
type MapBindings struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewMapBindings(initial map[string]any) *MapBindings {
	values := make(map[string]any, len(initial))
	maps.Copy(values, initial)
	return &MapBindings{values: values}
}

func (b *MapBindings) Get(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[name]
	return v, ok
}

func (b *MapBindings) Put(name string, value any) error {
	b.mu.Lock()
	b.values[name] = value
	b.mu.Unlock()
	return nil
}

func (b *MapBindings) Delete(name string) error {
	b.mu.Lock()
	delete(b.values, name)
	b.mu.Unlock()
	return nil
}

func (b *MapBindings) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.values))
}

// ScriptContext is the host-owned variable store scripts evaluate against.
// Lock and Unlock guard compound read-modify-write sequences performed by a
// Binding; they are independent of any locking the implementation does
// internally.
type ScriptContext interface {
	sync.Locker

	Scopes() []Scope
	Bindings(scope Scope) Bindings
	// AttributesScope reports the first scope holding name, or NoScope.
	AttributesScope(name string) Scope
	// Attribute searches every scope in order.
	Attribute(name string) (any, bool)
	AttributeIn(name string, scope Scope) (any, bool)
	SetAttribute(name string, value any, scope Scope) error
	DefaultScope() Scope
	Writer() io.Writer
}

// SimpleContext is the default ScriptContext: an engine scope, a global scope
// and any number of extra host scopes.
type SimpleContext struct {
	monitor sync.Mutex

	mu       sync.RWMutex
	scopes   []Scope
	bindings map[Scope]Bindings
	writer   io.Writer
}

// NewContext returns a SimpleContext with empty engine and global scopes that
// writes to standard output.
func NewContext() *SimpleContext {
	return &SimpleContext{
		scopes: []Scope{ScopeEngine, ScopeGlobal},
		bindings: map[Scope]Bindings{
			ScopeEngine: NewMapBindings(nil),
			ScopeGlobal: NewMapBindings(nil),
		},
		writer: os.Stdout,
	}
}

func (c *SimpleContext) Lock()   { c.monitor.Lock() }
func (c *SimpleContext) Unlock() { c.monitor.Unlock() }

func (c *SimpleContext) Scopes() []Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.scopes)
}

func (c *SimpleContext) Bindings(scope Scope) Bindings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bindings[scope]
}

// SetBindings installs b as scope, adding the scope if it is new. A nil b
// removes the scope; the engine scope can be replaced but never removed.
func (c *SimpleContext) SetBindings(scope Scope, b Bindings) error {
	if scope < 0 {
		return fmt.Errorf("moon: invalid scope %d", int(scope))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b == nil {
		if scope == ScopeEngine {
			return fmt.Errorf("moon: engine scope cannot be removed")
		}
		delete(c.bindings, scope)
		c.scopes = slices.DeleteFunc(c.scopes, func(s Scope) bool { return s == scope })
		return nil
	}
	if _, ok := c.bindings[scope]; !ok {
		c.scopes = append(c.scopes, scope)
		slices.Sort(c.scopes)
	}
	c.bindings[scope] = b
	return nil
}

func (c *SimpleContext) AttributesScope(name string) Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, scope := range c.scopes {
		if _, ok := c.bindings[scope].Get(name); ok {
			return scope
		}
	}
	return NoScope
}

func (c *SimpleContext) Attribute(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, scope := range c.scopes {
		if v, ok := c.bindings[scope].Get(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (c *SimpleContext) AttributeIn(name string, scope Scope) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[scope]
	if !ok {
		return nil, false
	}
	return b.Get(name)
}

func (c *SimpleContext) SetAttribute(name string, value any, scope Scope) error {
	c.mu.RLock()
	b, ok := c.bindings[scope]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("moon: unknown scope %s", scope)
	}
	return b.Put(name, value)
}

// RemoveAttribute deletes name from scope.
func (c *SimpleContext) RemoveAttribute(name string, scope Scope) error {
	c.mu.RLock()
	b, ok := c.bindings[scope]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("moon: unknown scope %s", scope)
	}
	return b.Delete(name)
}

func (c *SimpleContext) DefaultScope() Scope { return ScopeEngine }

func (c *SimpleContext) Writer() io.Writer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writer
}

func (c *SimpleContext) SetWriter(w io.Writer) {
	c.mu.Lock()
	c.writer = w
	c.mu.Unlock()
}
