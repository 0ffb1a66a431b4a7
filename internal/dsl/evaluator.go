package dsl

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
)

// Evaluator evaluates the DSL's jq-compatible expression language
// against a Scope, caching compiled programs the way
// cmd/workflow-runner/condition/evaluator.go cached CEL programs in the
// teacher project.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewEvaluator creates an Evaluator with an empty compile cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*gojq.Code)}
}

var fixedScopeVars = []string{
	"context", "input", "output", "secrets", "authorization", "task", "workflow", "runtime",
}

// extractExpression strips the `${ ... }` interpolation wrapper,
// reporting whether the string was syntactically an expression at all.
func extractExpression(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "${") && strings.HasSuffix(t, "}") {
		return strings.TrimSpace(t[2 : len(t)-1]), true
	}
	return "", false
}

// LooksLikeExpression reports whether s is the `${ ... }` interpolated
// form, without evaluating it.
func LooksLikeExpression(s string) bool {
	_, ok := extractExpression(s)
	return ok
}

func varNames(extra map[string]interface{}) []string {
	names := make([]string, len(fixedScopeVars), len(fixedScopeVars)+len(extra))
	copy(names, fixedScopeVars)
	extraKeys := make([]string, 0, len(extra))
	for k := range extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	return append(names, extraKeys...)
}

func (e *Evaluator) compile(src string, names []string) (*gojq.Code, error) {
	key := src + "\x00" + strings.Join(names, ",")

	e.mu.RLock()
	code, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse expression %q: %w", src, err)
	}

	dollarNames := make([]string, len(names))
	for i, n := range names {
		dollarNames[i] = "$" + n
	}

	code, err = gojq.Compile(query, gojq.WithVariables(dollarNames))
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}

	e.mu.Lock()
	e.cache[key] = code
	e.mu.Unlock()

	return code, nil
}

// Eval evaluates expr against input in scope. expr is treated as an
// expression when it is the `${ ... }` interpolated form, or
// unconditionally when force is true (used for DSL fields such as
// `when`/`if` that carry raw jq source with no wrapper). Otherwise expr
// is returned unchanged as a string literal.
func (e *Evaluator) Eval(input interface{}, expr string, scope Scope, force bool, position string) (interface{}, error) {
	src, isExpr := extractExpression(expr)
	if !isExpr {
		if !force {
			return expr, nil
		}
		src = expr
	}

	names := varNames(scope.Extra)
	code, err := e.compile(src, names)
	if err != nil {
		return nil, New(KindExpression, position, "failed to compile expression").
			WithDetail("expression", expr).Wrap(err)
	}

	scopeMap := scope.toMap()
	values := make([]interface{}, len(names))
	for i, n := range names {
		values[i] = scopeMap[n]
	}

	iter := code.Run(input, values...)
	v, ok := iter.Next()
	if !ok {
		return nil, Newf(KindExpression, position, "expression %q produced no result", expr)
	}
	if runErr, ok := v.(error); ok {
		return nil, New(KindExpression, position, "expression evaluation failed").
			WithDetail("expression", expr).Wrap(runErr)
	}
	return v, nil
}

// EvalBoolean evaluates expr and fails with EXPRESSION unless the
// result is a bool.
func (e *Evaluator) EvalBoolean(input interface{}, expr string, scope Scope, force bool, position string) (bool, error) {
	v, err := e.Eval(input, expr, scope, force, position)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, Newf(KindExpression, position, "expression %q did not evaluate to a boolean, got %T", expr, v)
	}
	return b, nil
}

// EvalString evaluates expr and fails with EXPRESSION unless the
// result is a string.
func (e *Evaluator) EvalString(input interface{}, expr string, scope Scope, force bool, position string) (string, error) {
	v, err := e.Eval(input, expr, scope, force, position)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", Newf(KindExpression, position, "expression %q did not evaluate to a string, got %T", expr, v)
	}
	return s, nil
}

// EvalList evaluates expr and fails with EXPRESSION unless the result
// is a JSON array.
func (e *Evaluator) EvalList(input interface{}, expr string, scope Scope, force bool, position string) ([]interface{}, error) {
	v, err := e.Eval(input, expr, scope, force, position)
	if err != nil {
		return nil, err
	}
	l, ok := v.([]interface{})
	if !ok {
		return nil, Newf(KindExpression, position, "expression %q did not evaluate to an array, got %T", expr, v)
	}
	return l, nil
}

// EvalTemplate recursively descends node, evaluating every `${ ... }`
// string leaf against input/scope and preserving the surrounding
// object/array structure (§4.1 "Templated objects").
func (e *Evaluator) EvalTemplate(input interface{}, node interface{}, scope Scope, position string) (interface{}, error) {
	switch v := node.(type) {
	case string:
		return e.Eval(input, v, scope, false, position)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			resolved, err := e.EvalTemplate(input, val, scope, position)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			resolved, err := e.EvalTemplate(input, val, scope, position)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ClearCache drops all compiled programs. Exposed for tests.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*gojq.Code)
}

// CacheSize reports the number of cached compiled programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
