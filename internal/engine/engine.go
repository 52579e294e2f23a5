// Package engine adapts transfer servers to a blocking Run contract that the
// lifecycle controller supervises on its own goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Engine is a transfer server. Run blocks until the engine terminates;
// cancelling ctx asks it to shut down cooperatively.
type Engine interface {
	Run(ctx context.Context) error
}

// Killer is implemented by engines that support forced teardown when they
// do not honour cancellation in time.
type Killer interface {
	Kill() error
}

// Func adapts a plain function to Engine.
type Func func(ctx context.Context) error

// Run calls f(ctx).
func (f Func) Run(ctx context.Context) error { return f(ctx) }

// BindError reports that the engine could not claim its listen address.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("engine: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// IsBindError reports whether err is (or wraps) a *BindError.
func IsBindError(err error) bool {
	var target *BindError
	return errors.As(err, &target)
}
