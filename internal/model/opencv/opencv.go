// Package opencv runs the classifier through the OpenCV DNN module. It reads
// any format gocv.ReadNet understands (ONNX, TensorFlow .pb, Caffe).
package opencv

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/preprocess"
)

// Net is a model.Classifier backed by gocv.Net. OpenCV nets keep per-call state
// (the input blob), so calls are serialised.
type Net struct {
	Metadata model.Metadata

	mu     sync.Mutex
	net    gocv.Net
	closed bool
}

var _ model.Classifier = (*Net)(nil)

// NewNet loads modelPath; configPath may be empty for self-describing formats.
func NewNet(modelPath, configPath string, metadata model.Metadata) (*Net, error) {
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable target: %w", err)
	}

	return &Net{Metadata: metadata, net: net}, nil
}

// Classify feeds the NHWC tensor to the net as a 4-D float blob.
func (n *Net) Classify(ctx context.Context, input *tensor.Dense) (float32, error) {
	data, err := model.InputData(input)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	blob, err := gocv.NewMatWithSizesFromBytes(
		[]int{1, preprocess.ImageSize, preprocess.ImageSize, preprocess.Channels},
		gocv.MatTypeCV32F,
		float32Bytes(data),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to build input blob: %w", err)
	}
	defer blob.Close()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return 0, fmt.Errorf("network is closed")
	}

	n.net.SetInput(blob, n.Metadata.InputName)
	output := n.net.Forward(n.Metadata.OutputName)
	defer output.Close()

	if output.Total() != 1 {
		return 0, fmt.Errorf("model returned %d values, want 1", output.Total())
	}
	values, err := output.DataPtrFloat32()
	if err != nil {
		return 0, fmt.Errorf("failed to read output: %w", err)
	}
	return model.Probability(values)
}

// Close releases the network.
func (n *Net) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.net.Close()
}

func float32Bytes(data []float32) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
}
