package moon

// Context attributes read by the engine before each compilation.
const (
	FilenameAttribute   = "moon.filename"
	CustomizerAttribute = "#moon.compile.customizer"
	ScriptBaseAttribute = "#moon.compile.script.base"
)

// Compiler turns source text into an Artifact.
type Compiler interface {
	Compile(source, name string, cfg CompilerConfig) (Artifact, error)
	// Extension is the conventional file suffix, including the dot.
	Extension() string
}

// CompilerConfig is built fresh for every compilation from the calling
// context, so concurrent compilations never share it.
type CompilerConfig struct {
	Customizers []Customizer
	// Base selects a compiler-defined base member set; empty means the
	// compiler's default.
	Base string
}

// Unit is the compiler's intermediate form handed to customizers. Tree holds
// the compiler-specific syntax tree.
type Unit struct {
	Name   string
	Source string
	Base   string
	Tree   any
}

// Customizer rewrites or validates a unit before code generation.
type Customizer interface {
	Customize(unit *Unit) error
}

type CustomizerFunc func(unit *Unit) error

func (f CustomizerFunc) Customize(unit *Unit) error { return f(unit) }

// compilerConfig reads the customizer and base attributes from sc. Missing
// attributes leave the defaults in place.
func compilerConfig(sc ScriptContext) CompilerConfig {
	var cfg CompilerConfig
	if sc == nil {
		return cfg
	}
	if v, ok := sc.Attribute(CustomizerAttribute); ok {
		switch c := v.(type) {
		case Customizer:
			cfg.Customizers = []Customizer{c}
		case []Customizer:
			cfg.Customizers = append([]Customizer(nil), c...)
		case []any:
			for _, item := range c {
				if cust, ok := item.(Customizer); ok {
					cfg.Customizers = append(cfg.Customizers, cust)
				}
			}
		}
	}
	if v, ok := sc.Attribute(ScriptBaseAttribute); ok {
		if base, ok := v.(string); ok {
			cfg.Base = base
		}
	}
	return cfg
}
