package model

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/Brownie44l1/xray-api/internal/preprocess"
)

// Metadata describes a model artifact. It is read from the JSON file shipped
// next to the model.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	Accuracy    float64  `json:"accuracy,omitempty"`
}

// DefaultMetadata matches a Keras sigmoid classifier exported with NHWC input.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, preprocess.ImageSize, preprocess.ImageSize, preprocess.Channels},
		OutputShape: []int64{1, 1},
		InputName:   "input",
		OutputName:  "output",
		Classes:     []string{"Normal", "Pneumonia"},
		ImageSize:   preprocess.ImageSize,
	}
}

// LoadMetadata reads metadata from path. An empty path yields DefaultMetadata.
// Fields missing from the file keep their default values.
func LoadMetadata(path string) (Metadata, error) {
	md := DefaultMetadata()
	if path == "" {
		return md, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := md.Validate(); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

// Validate checks that the model consumes exactly what the preprocessor produces
// and emits a single probability.
func (m Metadata) Validate() error {
	want := DefaultMetadata()
	if !slices.Equal(m.InputShape, want.InputShape) {
		return fmt.Errorf("unsupported input shape %v, want %v", m.InputShape, want.InputShape)
	}
	if m.ImageSize != preprocess.ImageSize {
		return fmt.Errorf("unsupported image size %d, want %d", m.ImageSize, preprocess.ImageSize)
	}
	outputs := int64(1)
	for _, d := range m.OutputShape {
		outputs *= d
	}
	if len(m.OutputShape) == 0 || outputs != 1 {
		return fmt.Errorf("output shape %v must hold a single probability", m.OutputShape)
	}
	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("input and output names are required")
	}
	if m.Accuracy < 0 || m.Accuracy > 100 {
		return fmt.Errorf("accuracy %.2f must be a percentage", m.Accuracy)
	}
	return nil
}

// InputSize is the number of float32 values in one input tensor.
func (m Metadata) InputSize() int {
	size := 1
	for _, d := range m.InputShape {
		size *= int(d)
	}
	return size
}
