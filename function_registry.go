package normcache

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"unicode"
)

// Function is a helper callable from key expressions, for example
// `typename + ":" + slug(title)`.
type Function func(args ...any) (any, error)

// FunctionRegistry holds the helpers key expressions may call. Names are
// case sensitive because every expression engine resolves them that way.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: map[string]Function{}}
}

// reservedKeyNames are bound by every key expression environment.
var reservedKeyNames = map[string]struct{}{
	"typename": {},
	"object":   {},
	"vars":     {},
	"call":     {},
}

// Register adds fn under name. The name must be an identifier that does not
// shadow the typename, object, vars or call bindings.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	if fn == nil {
		return fmt.Errorf("normcache: key function %q is nil", name)
	}
	if !isIdentifier(name) {
		return fmt.Errorf("normcache: key function name %q is not an identifier", name)
	}
	if _, reserved := reservedKeyNames[name]; reserved {
		return fmt.Errorf("normcache: key function name %q is reserved", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = map[string]Function{}
	}
	if _, exists := r.functions[name]; exists {
		return fmt.Errorf("normcache: key function %q already registered", name)
	}
	r.functions[name] = fn
	return nil
}

// Clone returns a registry holding the same functions. Later registrations
// on either side do not leak into the other.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &FunctionRegistry{functions: maps.Clone(r.functions)}
}

// Call runs the function registered for name with args taken from a key
// expression.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("normcache: no key functions configured")
	}
	r.mu.RLock()
	fn := r.functions[name]
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("normcache: key function %q not registered", name)
	}
	return fn(args...)
}

// Names returns the registered names in sorted order.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.functions))
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

// WithFunctionRegistry exposes the functions of registry to key expressions
// evaluated by the default evaluator.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *optionsConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithCustomFunction registers fn under name for key expressions. An
// invalid or duplicate name is logged by New and the function is skipped.
func WithCustomFunction(name string, fn Function) Option {
	return func(cfg *optionsConfig) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		if err := cfg.functions.Register(name, fn); err != nil {
			cfg.optionErrs = append(cfg.optionErrs, err)
		}
	}
}
