// Package onnx runs the classifier with ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/xray-api/internal/model"
)

// Options configure a Server.
type Options struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// library's platform default.
	LibraryPath string
	// Workers is the number of sessions kept in the pool.
	Workers int
}

// session is one AdvancedSession together with the tensors bound to it.
type session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (s *session) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
}

// Server is a model.Classifier backed by a pool of ONNX sessions.
// Each call borrows a session, so bound tensors are never shared between requests.
type Server struct {
	Metadata model.Metadata

	pool      chan *session
	sessions  []*session
	closeOnce sync.Once
}

var _ model.Classifier = (*Server)(nil)

// NewServer loads the model at modelPath into opts.Workers sessions.
func NewServer(modelPath string, metadata model.Metadata, opts Options) (*Server, error) {
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	s := &Server{
		Metadata: metadata,
		pool:     make(chan *session, opts.Workers),
	}
	for i := 0; i < opts.Workers; i++ {
		sess, err := newSession(modelPath, metadata)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.sessions = append(s.sessions, sess)
		s.pool <- sess
	}
	return s, nil
}

func newSession(modelPath string, metadata model.Metadata) (*session, error) {
	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &session{
		session:      sess,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Classify runs one forward pass on a borrowed session.
func (s *Server) Classify(ctx context.Context, input *tensor.Dense) (float32, error) {
	data, err := model.InputData(input)
	if err != nil {
		return 0, err
	}

	var sess *session
	select {
	case sess = <-s.pool:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { s.pool <- sess }()

	copy(sess.inputTensor.GetData(), data)
	if err := sess.session.Run(); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}

	return model.Probability(sess.outputTensor.GetData())
}

// Close destroys every session and the ONNX environment.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, sess := range s.sessions {
			sess.destroy()
		}
		err = ort.DestroyEnvironment()
	})
	return err
}
