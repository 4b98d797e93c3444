//go:build js_eval

package normcache

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJSEvaluatorInterruptsRunawayScripts(t *testing.T) {
	e := NewJSEvaluator(JSWithTimeout(20 * time.Millisecond))
	_, err := e.Evaluate(EvalContext{Typename: "Book"}, `(function(){ while (true) {} })()`)
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeded") {
		t.Fatalf("expected interrupt message, got %v", err)
	}
}
