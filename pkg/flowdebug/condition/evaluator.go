package condition

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	// ErrCompile indicates an expression could not be compiled.
	ErrCompile = errors.New("invalid condition")

	// ErrEvaluate indicates a compiled expression failed at runtime.
	ErrEvaluate = errors.New("condition evaluation failed")
)

// Evaluator evaluates condition expressions against a session context.
// It is safe for concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New creates a new evaluator with an empty program cache.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate runs expression against state and returns its boolean result.
// An empty expression is always true.
func (e *Evaluator) Evaluate(expression string, state map[string]any) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, buildEnv(state))
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrEvaluate, expression, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q returned %T, want bool", ErrEvaluate, expression, result)
	}
	return b, nil
}

// Validate compiles expression without running it.
func (e *Evaluator) Validate(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	_, err := e.compile(expression)
	return err
}

// CacheSize returns the number of cached programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(expression,
		expr.Env(helpers()),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrCompile, expression, err)
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()

	return prog, nil
}

// buildEnv flattens state into the expression environment.
// Helper names win over context keys of the same name.
func buildEnv(state map[string]any) map[string]any {
	env := make(map[string]any, len(state)+4)
	for k, v := range state {
		env[k] = v
	}
	if state == nil {
		state = map[string]any{}
	}
	env["context"] = state
	for k, v := range helpers() {
		env[k] = v
	}
	return env
}

func helpers() map[string]any {
	return map[string]any{
		"has":    hasFunc,
		"length": lengthFunc,
	}
}

// hasFunc reports whether item is an element of collection, a key of a map,
// or a substring of a string.
func hasFunc(collection any, item any) bool {
	if collection == nil {
		return false
	}
	if s, ok := collection.(string); ok {
		if sub, ok := item.(string); ok {
			return strings.Contains(s, sub)
		}
		return false
	}

	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if reflect.DeepEqual(v.Index(i).Interface(), item) {
				return true
			}
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			if reflect.DeepEqual(key.Interface(), item) {
				return true
			}
		}
	}
	return false
}

func lengthFunc(v any) int {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	}
	return 0
}
