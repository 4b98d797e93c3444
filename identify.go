package normcache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// IdentifyFunc derives an entity id for objects of one typename. Returning
// false embeds the object in its parent.
type IdentifyFunc func(object map[string]any) (string, bool)

// IdentifierFunc derives an entity id for any typename.
type IdentifierFunc func(typename string, object map[string]any) (string, bool)

// TypePolicy customizes identity for one typename. Identify wins over
// KeyExpression when both are set.
type TypePolicy struct {
	Identify      IdentifyFunc
	KeyExpression string
}

// DefaultIdentify returns typename:id or typename:_id when the object
// carries a scalar id field and a typename is known.
func DefaultIdentify(typename string, object map[string]any) (string, bool) {
	if typename == "" || object == nil {
		return "", false
	}
	for _, field := range []string{"id", "_id"} {
		if value, ok := formatID(object[field]); ok {
			return typename + ":" + value, true
		}
	}
	return "", false
}

func formatID(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, typed != ""
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), true
	case int:
		return strconv.Itoa(typed), true
	case int32:
		return strconv.FormatInt(int64(typed), 10), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case uint:
		return strconv.FormatUint(uint64(typed), 10), true
	case uint32:
		return strconv.FormatUint(uint64(typed), 10), true
	case uint64:
		return strconv.FormatUint(typed, 10), true
	case bool:
		return strconv.FormatBool(typed), true
	default:
		return "", false
	}
}

// identifier resolves entity ids following policy, expression, global
// function and default, in that order.
type identifier struct {
	policies  map[string]TypePolicy
	global    IdentifierFunc
	evaluator Evaluator

	mu    sync.Mutex
	rules map[string]CompiledRule
}

func newIdentifier(policies map[string]TypePolicy, global IdentifierFunc, evaluator Evaluator) *identifier {
	return &identifier{
		policies:  policies,
		global:    global,
		evaluator: evaluator,
		rules:     map[string]CompiledRule{},
	}
}

func (i *identifier) identify(typename string, object map[string]any, variables map[string]any) (string, bool, error) {
	if policy, ok := i.policies[typename]; ok {
		if policy.Identify != nil {
			id, ok := policy.Identify(object)
			return id, ok && id != "", nil
		}
		if policy.KeyExpression != "" {
			return i.evaluate(typename, policy.KeyExpression, object, variables)
		}
	}
	if i.global != nil {
		id, ok := i.global(typename, object)
		return id, ok && id != "", nil
	}
	id, ok := DefaultIdentify(typename, object)
	return id, ok, nil
}

func (i *identifier) evaluate(typename, expression string, object, variables map[string]any) (string, bool, error) {
	rule, err := i.rule(expression)
	if err != nil {
		return "", false, err
	}
	value, err := rule.Evaluate(EvalContext{Typename: typename, Object: object, Variables: variables})
	if err != nil {
		return "", false, err
	}
	if value == nil {
		return "", false, nil
	}
	id, ok := formatID(value)
	if !ok {
		if _, isString := value.(string); isString {
			return "", false, nil
		}
		return "", false, wrapEvaluationError(evaluatorEngineName(i.evaluator), expression, typename,
			fmt.Errorf("key expression returned %T, want string or number", value))
	}
	return id, true, nil
}

func (i *identifier) rule(expression string) (CompiledRule, error) {
	if i.evaluator == nil {
		return nil, fmt.Errorf("%w: key expression %q", ErrNoEvaluator, expression)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if rule, ok := i.rules[expression]; ok {
		return rule, nil
	}
	rule, err := i.evaluator.Compile(expression)
	if err != nil {
		return nil, err
	}
	i.rules[expression] = rule
	return rule, nil
}
