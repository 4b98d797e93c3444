package normcache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-normcache/layering"
	"github.com/goliatone/go-normcache/storekey"
)

var (
	// ErrDuplicateLayerID indicates an optimistic layer id already in use.
	ErrDuplicateLayerID = layering.ErrDuplicateLayerID
	// ErrUnknownLayerID indicates an optimistic layer id not on the stack.
	ErrUnknownLayerID = layering.ErrUnknownLayerID
	// ErrInvalidTransaction indicates a mutation outside a live transaction
	// or after the transaction aborted.
	ErrInvalidTransaction = errors.New("normcache: invalid transaction")
	// ErrUnknownFragment indicates a spread of an undefined fragment.
	ErrUnknownFragment = errors.New("normcache: unknown fragment")
	// ErrFragmentCycle indicates a fragment that spreads itself.
	ErrFragmentCycle = errors.New("normcache: fragment cycle")
	// ErrInvalidResult indicates a result payload the writer cannot walk.
	ErrInvalidResult = errors.New("normcache: invalid result")
	// ErrNoEvaluator indicates a key expression without a usable evaluator.
	ErrNoEvaluator = errors.New("normcache: evaluator not configured")
)

// SerializationError reports an argument value without a canonical form.
type SerializationError = storekey.SerializationError

// MissingField describes one selected field the store could not supply.
type MissingField struct {
	Path    string
	Message string
}

// IncompleteResultError is returned by strict reads that opted into errors
// on missing data.
type IncompleteResultError struct {
	RootID  string
	Missing []MissingField
}

func (e *IncompleteResultError) Error() string {
	if e == nil {
		return "<nil>"
	}
	paths := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		paths = append(paths, m.Path)
	}
	return fmt.Sprintf("normcache: incomplete result for %s: missing %s", e.RootID, strings.Join(paths, ", "))
}

// EvaluationError captures key expression metadata alongside the
// originating error.
type EvaluationError struct {
	Engine   string
	Expr     string
	Typename string
	Err      error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("normcache: %s evaluator %s typename=%s: %v", e.Engine, describeExpression(e.Expr), e.Typename, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

func wrapEvaluationError(engine, expr, typename string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Engine == "" {
			evalErr.Engine = engine
		}
		if evalErr.Expr == "" {
			evalErr.Expr = expr
		}
		if evalErr.Typename == "" {
			evalErr.Typename = typename
		}
		return evalErr
	}

	return &EvaluationError{
		Engine:   engine,
		Expr:     expr,
		Typename: typename,
		Err:      err,
	}
}
