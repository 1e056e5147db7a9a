// Package cascade runs an ordered list of candidate sources and keeps the
// first usable answer.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrExhausted is returned when no candidate produced a usable value.
var ErrExhausted = errors.New("no candidate produced a usable value")

// Candidate is one source in preference order.
type Candidate[T any] struct {
	Name string
	Try  func(ctx context.Context) (T, error)
}

// Result is the outcome of one candidate.
type Result[T any] struct {
	Name   string
	Value  T
	Err    error
	Usable bool
}

// Outcome reports the winning candidate and every candidate that was tried.
type Outcome[T any] struct {
	Value    T
	Winner   string
	Attempts []Result[T]
}

// Abort wraps an error that must stop the cascade instead of moving on to
// the next candidate.
type Abort struct {
	Err error
}

func (a *Abort) Error() string { return a.Err.Error() }
func (a *Abort) Unwrap() error { return a.Err }

// Stop marks err as fatal for the cascade.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &Abort{Err: err}
}

// First tries candidates in order and returns the first value for which
// usable reports true. A candidate error wrapped with Stop ends the cascade
// and is returned unwrapped. A nil usable accepts any value returned
// without error.
func First[T any](ctx context.Context, candidates []Candidate[T], usable func(T) bool) (Outcome[T], error) {
	var out Outcome[T]
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		v, err := c.Try(ctx)
		res := Result[T]{Name: c.Name, Value: v, Err: err}
		if err != nil {
			out.Attempts = append(out.Attempts, res)
			var abort *Abort
			if errors.As(err, &abort) {
				return out, abort.Err
			}
			continue
		}
		res.Usable = usable == nil || usable(v)
		out.Attempts = append(out.Attempts, res)
		if res.Usable {
			out.Value = v
			out.Winner = c.Name
			return out, nil
		}
	}
	return out, exhausted(out.Attempts)
}

func exhausted[T any](attempts []Result[T]) error {
	if len(attempts) == 0 {
		return ErrExhausted
	}
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		switch {
		case a.Err != nil:
			parts = append(parts, fmt.Sprintf("%s: %v", label(a.Name), a.Err))
		default:
			parts = append(parts, fmt.Sprintf("%s: not usable", label(a.Name)))
		}
	}
	return fmt.Errorf("%w (%s)", ErrExhausted, strings.Join(parts, "; "))
}

func label(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
