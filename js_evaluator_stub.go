//go:build !js_eval

package normcache

// NewJSEvaluator returns nil unless the binary is built with the js_eval
// tag. Without an evaluator, type policies with a KeyExpression fail with
// ErrNoEvaluator; pass the result through WithEvaluator only when non-nil.
func NewJSEvaluator(...JSEvaluatorOption) Evaluator {
	return nil
}

func jsEvaluatorAvailable() bool {
	return false
}
