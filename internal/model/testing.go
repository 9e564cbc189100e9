package model

import (
	"context"
	"sync/atomic"

	"gorgonia.org/tensor"
)

// Fixed is a Classifier that always returns the same probability.
// This is primarily for testing purposes.
type Fixed struct {
	Probability float32
	Err         error

	calls  atomic.Int64
	closed atomic.Bool
}

// Classify validates the input like a real backend and returns f.Probability.
func (f *Fixed) Classify(ctx context.Context, input *tensor.Dense) (float32, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := InputData(input); err != nil {
		return 0, err
	}
	if f.Err != nil {
		return 0, f.Err
	}
	return f.Probability, nil
}

// Close marks the classifier closed.
func (f *Fixed) Close() error {
	f.closed.Store(true)
	return nil
}

// Calls reports how many times Classify was invoked.
func (f *Fixed) Calls() int64 { return f.calls.Load() }

// Closed reports whether Close was called.
func (f *Fixed) Closed() bool { return f.closed.Load() }
