package normcache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// EvalContext carries the inputs of a key expression.
type EvalContext struct {
	Typename  string
	Object    map[string]any
	Variables map[string]any
}

func (ctx EvalContext) withDefaultMaps() EvalContext {
	if ctx.Object == nil {
		ctx.Object = map[string]any{}
	}
	if ctx.Variables == nil {
		ctx.Variables = map[string]any{}
	}
	return ctx
}

// objectKeys returns the object field names in sorted order.
func (ctx EvalContext) objectKeys() []string {
	keys := make([]string, 0, len(ctx.Object))
	for key := range ctx.Object {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Evaluator executes key expressions against an object.
type Evaluator interface {
	Evaluate(ctx EvalContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule is a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx EvalContext) (any, error)
}

// ProgramCache stores compiled expression programs keyed by expression.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// NewProgramCache returns an unbounded, concurrency-safe ProgramCache.
func NewProgramCache() ProgramCache {
	return &mapProgramCache{programs: map[string]any{}}
}

type mapProgramCache struct {
	mu       sync.RWMutex
	programs map[string]any
}

func (c *mapProgramCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.programs[key]
	return value, ok
}

func (c *mapProgramCache) Set(key string, value any) {
	c.mu.Lock()
	c.programs[key] = value
	c.mu.Unlock()
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*normcache.exprEvaluator":
		return "expr"
	case "*normcache.celEvaluator":
		return "cel"
	case "*normcache.jsEvaluator":
		return "js"
	default:
		return "custom"
	}
}

// environment is the variable set shared by the expr and js engines.
func environment(ctx EvalContext, registry *FunctionRegistry) map[string]any {
	env := map[string]any{
		"typename": ctx.Typename,
		"object":   ctx.Object,
		"vars":     ctx.Variables,
	}
	for key, value := range ctx.Object {
		if _, reserved := env[key]; reserved {
			continue
		}
		env[key] = value
	}
	if registry != nil {
		env["call"] = func(name string, arguments ...any) (any, error) {
			return registry.Call(name, arguments...)
		}
		for _, name := range registry.Names() {
			fn := name
			env[fn] = func(arguments ...any) (any, error) {
				return registry.Call(fn, arguments...)
			}
		}
	}
	return env
}

func programKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}
