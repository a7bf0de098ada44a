package moon

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// MemberRef is a registry entry: a member of the script instance that first
// defined it. Calling it runs against that instance's binding.
type MemberRef struct {
	Instance Instance
	Name     string
}

func (m *MemberRef) Call(ctx context.Context, args []any) (any, error) {
	return m.Instance.Invoke(ctx, m.Name, args)
}

// Registry is the engine-wide table of global functions. The first callable
// registered under a name keeps it; entries are never replaced or removed.
type Registry struct {
	entries sync.Map
	logger  *zap.Logger
	metrics *Metrics
}

func NewRegistry() *Registry {
	return newRegistry(zap.NewNop(), nil)
}

func newRegistry(logger *zap.Logger, metrics *Metrics) *Registry {
	return &Registry{logger: logger, metrics: metrics}
}

// Register stores c under name unless the name is taken, and reports whether
// it was stored.
func (r *Registry) Register(name string, c Callable) bool {
	_, loaded := r.entries.LoadOrStore(name, c)
	r.metrics.registration(!loaded)
	return !loaded
}

// RegisterAll offers every member of inst to the registry and returns how
// many names were newly taken.
func (r *Registry) RegisterAll(inst Instance, members []string) int {
	inserted := 0
	for _, name := range members {
		if r.Register(name, &MemberRef{Instance: inst, Name: name}) {
			inserted++
		}
	}
	if len(members) > 0 {
		r.logger.Debug("registered script members",
			zap.Int("offered", len(members)),
			zap.Int("inserted", inserted))
	}
	return inserted
}

func (r *Registry) Lookup(name string) (Callable, bool) {
	v, ok := r.entries.Load(name)
	if !ok {
		return nil, false
	}
	return v.(Callable), true
}

// Names returns every registered name in sorted order.
func (r *Registry) Names() []string {
	var names []string
	r.entries.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	slices.Sort(names)
	return names
}
