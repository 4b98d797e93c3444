package normcache

import (
	"github.com/goliatone/go-normcache/pkg/activity"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures an InMemoryCache.
type Option func(*optionsConfig)

type optionsConfig struct {
	logger         Logger
	policies       map[string]TypePolicy
	identifier     IdentifierFunc
	possibleTypes  map[string][]string
	evaluator      Evaluator
	programCache   ProgramCache
	functions      *FunctionRegistry
	activityHooks  activity.Hooks
	activityConfig activity.Config
	activitySet    bool
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	resultCaching  bool
	optionErrs     []error
}

func applyOptions(opts []Option) optionsConfig {
	cfg := optionsConfig{
		policies:      map[string]TypePolicy{},
		possibleTypes: map[string][]string{},
		resultCaching: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = noopLogger{}
	}
	if !cfg.activitySet {
		cfg.activityConfig = activity.Config{Enabled: len(cfg.activityHooks) > 0}
	}
	return cfg
}

// evaluatorOrDefault returns the configured evaluator, or an expr evaluator
// sharing the configured program cache and functions.
func (cfg optionsConfig) evaluatorOrDefault() Evaluator {
	if cfg.evaluator != nil {
		return cfg.evaluator
	}
	cache := cfg.programCache
	if cache == nil {
		cache = NewProgramCache()
	}
	return NewExprEvaluator(
		ExprWithProgramCache(cache),
		ExprWithFunctionRegistry(cfg.functions),
	)
}

// WithLogger routes cache diagnostics to logger.
func WithLogger(logger Logger) Option {
	return func(cfg *optionsConfig) {
		cfg.logger = logger
	}
}

// WithTypePolicy registers identity rules for typename.
func WithTypePolicy(typename string, policy TypePolicy) Option {
	return func(cfg *optionsConfig) {
		cfg.policies[typename] = policy
	}
}

// WithIdentifier replaces the default typename:id identity for typenames
// without a policy.
func WithIdentifier(fn IdentifierFunc) Option {
	return func(cfg *optionsConfig) {
		cfg.identifier = fn
	}
}

// WithPossibleTypes declares the concrete subtypes of abstract types so
// fragment type conditions can be decided exactly.
func WithPossibleTypes(possible map[string][]string) Option {
	return func(cfg *optionsConfig) {
		for super, subs := range possible {
			cfg.possibleTypes[super] = append(cfg.possibleTypes[super], subs...)
		}
	}
}

// WithEvaluator configures the engine used for key expressions.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *optionsConfig) {
		cfg.evaluator = e
	}
}

// WithProgramCache shares compiled key expression programs with the default
// evaluator.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *optionsConfig) {
		cfg.programCache = cache
	}
}

// WithActivityHooks attaches activity hooks. Nil entries are dropped and
// emission is enabled unless WithActivityConfig says otherwise.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := hooks.Clone()
	return func(cfg *optionsConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActivityConfig sets the emitter configuration.
func WithActivityConfig(config activity.Config) Option {
	return func(cfg *optionsConfig) {
		cfg.activityConfig = config
		cfg.activitySet = true
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider used for cache
// metrics. The global provider is used otherwise.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(cfg *optionsConfig) {
		cfg.meterProvider = provider
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used for cache
// spans. The global provider is used otherwise.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(cfg *optionsConfig) {
		cfg.tracerProvider = provider
	}
}

// WithResultCaching toggles reuse of previous results. When disabled,
// watches compare results structurally and every read returns fresh
// instances.
func WithResultCaching(enabled bool) Option {
	return func(cfg *optionsConfig) {
		cfg.resultCaching = enabled
	}
}
