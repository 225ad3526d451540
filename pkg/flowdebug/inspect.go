package flowdebug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/itchyny/gojq"
)

// DefaultQueryTimeout bounds a Query when ctx has no earlier deadline.
const DefaultQueryTimeout = 5 * time.Second

// ErrQuery wraps jq parse, compile and runtime failures.
var ErrQuery = errors.New("query failed")

// Inspect walks a dot-separated path through state. Numeric segments index
// into lists. It returns nil if any segment is missing; an empty path
// returns state itself.
func Inspect(state map[string]any, path string) any {
	path = strings.TrimSpace(path)
	if path == "" {
		return state
	}

	var cur any = state
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			cur = v[i]
		default:
			return nil
		}
	}
	return cur
}

// Query evaluates a jq expression against state and returns every result.
// A single result is returned as is; several are returned as a list.
func Query(ctx context.Context, state map[string]any, expression string) (any, error) {
	q, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %w", ErrQuery, expression, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %w", ErrQuery, expression, err)
	}

	input, err := normalize(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultQueryTimeout)
		defer cancel()
	}

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("%w: %q: %w", ErrQuery, expression, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// normalize converts state into the plain JSON value types gojq accepts.
func normalize(state map[string]any) (any, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return out, nil
}
