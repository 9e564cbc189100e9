// Package tflite runs the classifier with the TensorFlow Lite C API, the usual
// export target for Keras models.
package tflite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattn/go-tflite"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/preprocess"
)

// Interpreter is a model.Classifier backed by one TFLite interpreter.
// Invocations share the interpreter's tensors, so they are serialised.
type Interpreter struct {
	Metadata model.Metadata

	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	closed      bool
}

var _ model.Classifier = (*Interpreter)(nil)

// NewInterpreter loads modelPath and allocates its tensors. threads <= 0 lets
// TFLite pick.
func NewInterpreter(modelPath string, metadata model.Metadata, threads int, logger *slog.Logger) (*Interpreter, error) {
	if err := metadata.Validate(); err != nil {
		return nil, err
	}

	m := tflite.NewModelFromFile(modelPath)
	if m == nil {
		return nil, fmt.Errorf("failed to load model from %s", modelPath)
	}

	options := tflite.NewInterpreterOptions()
	if options == nil {
		m.Delete()
		return nil, errors.New("interpreter options failed to be created")
	}
	if threads > 0 {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warn("tflite", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(m, options)
	if interpreter == nil {
		options.Delete()
		m.Delete()
		return nil, errors.New("failed to create interpreter")
	}

	it := &Interpreter{
		Metadata:    metadata,
		model:       m,
		options:     options,
		interpreter: interpreter,
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		it.Close()
		return nil, errors.New("failed to allocate tensors")
	}
	if err := it.checkInput(); err != nil {
		it.Close()
		return nil, err
	}
	return it, nil
}

func (it *Interpreter) checkInput() error {
	input := it.interpreter.GetInputTensor(0)
	if input == nil {
		return errors.New("model has no input tensor")
	}
	if input.Type() != tflite.Float32 {
		return fmt.Errorf("model input type %v, want float32", input.Type())
	}
	want := []int{1, preprocess.ImageSize, preprocess.ImageSize, preprocess.Channels}
	if input.NumDims() != len(want) {
		return fmt.Errorf("model input has %d dims, want %d", input.NumDims(), len(want))
	}
	for i, d := range want {
		if input.Dim(i) != d {
			return fmt.Errorf("model input dim %d is %d, want %d", i, input.Dim(i), d)
		}
	}
	return nil
}

// Classify copies the tensor into the interpreter and invokes it.
func (it *Interpreter) Classify(ctx context.Context, input *tensor.Dense) (float32, error) {
	data, err := model.InputData(input)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return 0, errors.New("interpreter is closed")
	}

	if status := it.interpreter.GetInputTensor(0).CopyFromBuffer(data); status != tflite.OK {
		return 0, errors.New("copying to buffer failed")
	}
	if status := it.interpreter.Invoke(); status != tflite.OK {
		return 0, errors.New("invoke failed")
	}

	output := it.interpreter.GetOutputTensor(0)
	if output == nil {
		return 0, errors.New("model has no output tensor")
	}
	return model.Probability(output.Float32s())
}

// Close deletes the interpreter, its options and the model.
func (it *Interpreter) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil
	}
	it.closed = true
	it.interpreter.Delete()
	it.options.Delete()
	it.model.Delete()
	return nil
}
