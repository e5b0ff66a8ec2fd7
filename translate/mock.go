package translate

import (
	"context"
	"errors"
	"sync/atomic"
)

// EchoBackend replies with the request itself. Every entry comes back
// unchanged, which makes a full offline dry run of the pipeline possible.
type EchoBackend struct{}

// Complete implements Backend.
func (EchoBackend) Complete(_ context.Context, _, userPrompt string) (string, error) {
	return userPrompt, nil
}

// FuncBackend adapts a function to Backend.
type FuncBackend func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// Complete implements Backend.
func (f FuncBackend) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// ErrFlaky is returned by FlakyBackend while it is failing.
var ErrFlaky = errors.New("flaky backend: simulated failure")

// FlakyBackend fails its first Failures calls, then delegates to Next.
type FlakyBackend struct {
	Failures int32
	Next     Backend

	calls atomic.Int32
}

// Complete implements Backend.
func (f *FlakyBackend) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.calls.Add(1) <= f.Failures {
		return "", ErrFlaky
	}
	return f.Next.Complete(ctx, systemPrompt, userPrompt)
}

// Calls returns how many times Complete was called.
func (f *FlakyBackend) Calls() int {
	return int(f.calls.Load())
}
