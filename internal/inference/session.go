// Package inference wraps onnxruntime: process-wide environment setup and
// per-model sessions, with optional accelerated execution providers.
package inference

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envMu          sync.Mutex
	envInitialized bool
)

// Initialize sets up the onnxruntime environment. libraryPath points at
// the onnxruntime shared library; empty keeps the library default. Safe to
// call repeatedly.
func Initialize(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envInitialized {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	envInitialized = true
	return nil
}

// Shutdown tears the environment down. Sessions must be destroyed first.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !envInitialized {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}
	envInitialized = false
	return nil
}

// ErrNoAcceleratedProvider reports that none of the accelerated execution
// providers could be attached on this machine.
var ErrNoAcceleratedProvider = errors.New("no accelerated execution provider available")

// Session wraps one onnxruntime inference session.
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	inputNames  []string
	outputNames []string
}

// NewSession creates a session for the model at modelPath. When
// accelerated is set, one of the GPU execution providers (CUDA, CoreML,
// DirectML) must attach or the call fails with ErrNoAcceleratedProvider;
// callers fall back to a CPU session themselves.
func NewSession(modelPath string, inputNames, outputNames []string, accelerated bool) (*Session, error) {
	envMu.Lock()
	ready := envInitialized
	envMu.Unlock()
	if !ready {
		return nil, errors.New("onnxruntime not initialized, call Initialize first")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	if accelerated {
		if err := appendAcceleratedProvider(options); err != nil {
			return nil, fmt.Errorf("%s: %w", modelPath, err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", modelPath, err)
	}

	return &Session{
		session:     session,
		modelPath:   modelPath,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// appendAcceleratedProvider tries the GPU providers in preference order.
func appendAcceleratedProvider(options *ort.SessionOptions) error {
	if cudaOpts, err := ort.NewCUDAProviderOptions(); err == nil {
		defer cudaOpts.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOpts); err == nil {
			return nil
		}
	}
	if err := options.AppendExecutionProviderCoreML(0); err == nil {
		return nil
	}
	if err := options.AppendExecutionProviderDirectML(0); err == nil {
		return nil
	}
	return ErrNoAcceleratedProvider
}

// Run executes inference with the given inputs.
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	return s.session.Run(inputs, outputs)
}

// ModelPath returns the model file this session was created from.
func (s *Session) ModelPath() string {
	return s.modelPath
}

// Destroy releases session resources.
func (s *Session) Destroy() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// CreateTensor creates a tensor with the given shape and data.
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates a zeroed tensor for outputs.
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	data := make([]T, size)
	return ort.NewTensor(ort.NewShape(shape...), data)
}
