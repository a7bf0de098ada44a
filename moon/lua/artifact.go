package lua

import (
	"fmt"
	"slices"

	glua "github.com/yuin/gopher-lua"

	"github.com/mgomes/moonhost/moon"
)

// Artifact is a compiled Lua chunk. Its function prototype is shared by every
// instance.
type Artifact struct {
	name      string
	proto     *glua.FunctionProto
	members   []string
	base      Base
	libraries []string
}

func (a *Artifact) Name() string { return a.name }

func (a *Artifact) Members() []string { return slices.Clone(a.members) }

// Libraries lists the standard libraries each instance opens.
func (a *Artifact) Libraries() []string { return slices.Clone(a.libraries) }

func (a *Artifact) NewInstance(env *moon.Env) (moon.Instance, error) {
	if env == nil || env.Binding == nil {
		return nil, fmt.Errorf("lua: instance of %s needs a binding", a.name)
	}
	L := glua.NewState(glua.Options{SkipOpenLibs: true})
	for _, lib := range a.libraries {
		opener := libraryOpeners[lib]
		if err := L.CallByParam(glua.P{Fn: L.NewFunction(opener.open), NRet: 0, Protect: true}, glua.LString(opener.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("lua: opening %s library: %w", lib, err)
		}
	}
	return newInstance(a, env, L), nil
}
