package moon

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var scriptCounter atomic.Int64

func nextScriptName(ext string) string {
	return fmt.Sprintf("Script%d%s", scriptCounter.Add(1)-1, ext)
}

// scriptName reuses the engine-scope filename attribute when present and
// synthesizes a unique name otherwise.
func scriptName(sc ScriptContext, ext string) string {
	if sc != nil {
		if v, ok := sc.AttributeIn(FilenameAttribute, ScopeEngine); ok && v != nil {
			name := fmt.Sprint(v)
			if !strings.HasSuffix(name, ext) {
				name += ext
			}
			return name
		}
	}
	return nextScriptName(ext)
}

// artifactCache maps exact source text to its artifact. Concurrent misses on
// the same text may compile twice; the first stored artifact is returned to
// both callers.
type artifactCache struct {
	compiler Compiler
	entries  sync.Map
	size     atomic.Int64
	logger   *zap.Logger
	metrics  *Metrics
}

func newArtifactCache(compiler Compiler, logger *zap.Logger, metrics *Metrics) *artifactCache {
	return &artifactCache{compiler: compiler, logger: logger, metrics: metrics}
}

func (c *artifactCache) getOrCompile(source string, sc ScriptContext) (Artifact, error) {
	if v, ok := c.entries.Load(source); ok {
		c.metrics.cacheLookup(true)
		art := v.(Artifact)
		c.logger.Debug("artifact cache hit", zap.String("script", art.Name()))
		return art, nil
	}
	c.metrics.cacheLookup(false)

	cfg := compilerConfig(sc)
	name := scriptName(sc, c.compiler.Extension())
	art, err := c.compiler.Compile(source, name, cfg)
	if err == nil && art == nil {
		err = &CompileError{Name: name, Message: "compiler returned no artifact"}
	}
	if err != nil {
		c.metrics.compiled(false)
		var ce *CompileError
		if !errors.As(err, &ce) {
			ce = &CompileError{Name: name, Message: err.Error(), Err: err}
		}
		c.logger.Debug("compile failed", zap.String("script", name), zap.Error(ce))
		return nil, ce
	}
	c.metrics.compiled(true)

	stored, loaded := c.entries.LoadOrStore(source, art)
	if !loaded {
		c.size.Add(1)
		c.logger.Debug("artifact cached", zap.String("script", name), zap.Int("customizers", len(cfg.Customizers)))
	}
	return stored.(Artifact), nil
}

func (c *artifactCache) len() int {
	return int(c.size.Load())
}
