package normcache

import "testing"

func TestJSEvaluatorOptions(t *testing.T) {
	cfg := applyJSEvaluatorOptions(nil)
	if cfg.timeout != defaultJSKeyTimeout {
		t.Fatalf("expected default timeout, got %s", cfg.timeout)
	}

	registry := NewFunctionRegistry()
	_ = registry.Register("slug", echo)
	cache := NewProgramCache()
	cfg = applyJSEvaluatorOptions([]JSEvaluatorOption{
		JSWithTimeout(0),
		JSWithProgramCache(cache),
		JSWithFunctionRegistry(registry),
		JSWithFunctionRegistry(nil),
		nil,
	})
	if cfg.timeout != 0 || cfg.cache != cache {
		t.Fatalf("options not applied: %+v", cfg)
	}
	if cfg.registry == registry || len(cfg.registry.Names()) != 1 {
		t.Fatalf("expected a detached copy of the registry")
	}
	_ = registry.Register("later", echo)
	if len(cfg.registry.Names()) != 1 {
		t.Fatalf("registry copy picked up a later registration")
	}
}
