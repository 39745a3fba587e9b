package model

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXBackend runs artifacts with ONNX Runtime. The runtime environment is
// process-wide and initialized on the first Open.
type ONNXBackend struct {
	libraryPath    string
	intraOpThreads int
	logger         *slog.Logger

	mu          sync.Mutex
	initialized bool
}

func NewONNXBackend(libraryPath string, intraOpThreads int, logger *slog.Logger) *ONNXBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &ONNXBackend{
		libraryPath:    libraryPath,
		intraOpThreads: intraOpThreads,
		logger:         logger.With("component", "onnxruntime"),
	}
}

func (b *ONNXBackend) initEnvironment() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized || ort.IsInitialized() {
		return nil
	}
	if b.libraryPath != "" {
		ort.SetSharedLibraryPath(b.libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	b.initialized = true
	return nil
}

func (b *ONNXBackend) Open(artifact []byte, meta Metadata) (Session, error) {
	if err := b.initEnvironment(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to read model graph: %w", err)
	}
	var inputNames, outputNames []string
	for _, info := range inputs {
		inputNames = append(inputNames, info.Name)
		b.logger.Info("graph input", "name", info.Name, "shape", []int64(info.Dimensions))
	}
	for _, info := range outputs {
		outputNames = append(outputNames, info.Name)
		b.logger.Info("graph output", "name", info.Name, "shape", []int64(info.Dimensions))
	}
	if !slices.Contains(inputNames, meta.InputName) {
		return nil, fmt.Errorf("model has no input named %q (inputs: %v)", meta.InputName, inputNames)
	}
	if !slices.Contains(outputNames, meta.OutputName) {
		return nil, fmt.Errorf("model has no output named %q (outputs: %v)", meta.OutputName, outputNames)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()
	if b.intraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(b.intraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(artifact,
		[]string{meta.InputName}, []string{meta.OutputName}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxSession{
		session:     session,
		inputShape:  ort.NewShape(meta.BatchInputShape()...),
		outputShape: ort.NewShape(meta.BatchOutputShape()...),
	}, nil
}

func (b *ONNXBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil
	}
	b.initialized = false
	return ort.DestroyEnvironment()
}

// onnxSession allocates tensors per Run so concurrent requests never share
// buffers; the underlying ORT session is safe for concurrent Run calls.
type onnxSession struct {
	session     *ort.DynamicAdvancedSession
	inputShape  ort.Shape
	outputShape ort.Shape
}

func (s *onnxSession) Run(input []float32) ([]float32, error) {
	inputTensor, err := ort.NewTensor(s.inputShape, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](s.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := s.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, len(outputTensor.GetData()))
	copy(out, outputTensor.GetData())
	return out, nil
}

func (s *onnxSession) Close() error {
	if s.session == nil {
		return nil
	}
	return s.session.Destroy()
}
