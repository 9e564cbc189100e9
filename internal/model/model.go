// Package model defines the contract between the request pipeline and the
// inference backends, plus the metadata describing a model artifact.
package model

import (
	"context"
	"errors"
	"fmt"

	"gorgonia.org/tensor"

	"github.com/Brownie44l1/xray-api/internal/preprocess"
)

// ErrInputShape means a tensor that did not come from preprocess.Preprocess
// reached a classifier.
var ErrInputShape = errors.New("unexpected input tensor")

// Classifier runs one forward pass of the binary pneumonia model.
// Implementations are created once at startup and are safe for concurrent use.
type Classifier interface {
	// Classify returns P(pneumonia) for a (1, 224, 224, 3) input.
	Classify(ctx context.Context, input *tensor.Dense) (float32, error)
	Close() error
}

// InputData validates t against the preprocessing contract and returns its values.
func InputData(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tensor", ErrInputShape)
	}
	if !t.Shape().Eq(preprocess.Shape()) {
		return nil, fmt.Errorf("%w: shape %v, want %v", ErrInputShape, t.Shape(), preprocess.Shape())
	}
	data, ok := preprocess.Values(t)
	if !ok {
		return nil, fmt.Errorf("%w: dtype %v, want float32", ErrInputShape, t.Dtype())
	}
	return data, nil
}

// Probability extracts the single scalar a backend produced.
func Probability(output []float32) (float32, error) {
	if len(output) != 1 {
		return 0, fmt.Errorf("model returned %d values, want 1", len(output))
	}
	return output[0], nil
}
