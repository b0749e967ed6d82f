package inference

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/livesense/internal/log"
)

// ErrNotInitialized is returned when a session is created before Initialize
var ErrNotInitialized = errors.New("ONNX Runtime not initialized, call Initialize() first")

var (
	initialized bool
	initMu      sync.Mutex
)

// Initialize sets up the ONNX Runtime environment (call once at startup)
func Initialize(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	initialized = true
	return nil
}

// Shutdown cleans up the ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

// SessionOptions tunes session creation
type SessionOptions struct {
	// UseCoreML appends the CoreML execution provider, falling back to CPU when unavailable
	UseCoreML      bool
	IntraOpThreads int
}

// Session wraps an ONNX Runtime session with one float input
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	inputName   string
	inputShape  []int64
	outputNames []string
	mu          sync.Mutex
}

// Load opens a model, discovering its input and output tensors
func Load(modelPath string, opts SessionOptions) (*Session, error) {
	initMu.Lock()
	ready := initialized
	initMu.Unlock()
	if !ready {
		return nil, ErrNotInitialized
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info for %s: %w", modelPath, err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("model %s has %d inputs, expected 1", modelPath, len(inputs))
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no outputs", modelPath)
	}

	shape := make([]int64, len(inputs[0].Dimensions))
	copy(shape, inputs[0].Dimensions)
	if len(shape) > 0 && shape[0] <= 0 {
		shape[0] = 1
	}

	outputNames := make([]string, len(outputs))
	for i, o := range outputs {
		outputNames[i] = o.Name
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	logger := log.WithComponent("inference")
	if opts.UseCoreML {
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			logger.WithField("model", modelPath).Warnf("CoreML unavailable, using CPU: %v", err)
		} else {
			logger.WithField("model", modelPath).Info("CoreML execution provider enabled")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputs[0].Name},
		outputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}

	logger.WithFields(log.Fields{
		"model":   modelPath,
		"input":   shape,
		"outputs": len(outputNames),
	}).Info("model loaded")

	return &Session{
		session:     session,
		modelPath:   modelPath,
		inputName:   inputs[0].Name,
		inputShape:  shape,
		outputNames: outputNames,
	}, nil
}

// InputShape returns the resolved input shape
func (s *Session) InputShape() []int64 {
	return s.inputShape
}

// Run executes inference. Outputs are allocated by the runtime and copied
// out before being released.
func (s *Session) Run(input []float32) ([]Tensor, error) {
	if want := elementCount(s.inputShape); int64(len(input)) != want {
		return nil, fmt.Errorf("input has %d values, model %s expects %d", len(input), s.modelPath, want)
	}

	in, err := ort.NewTensor(ort.NewShape(s.inputShape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := make([]ort.Value, len(s.outputNames))
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	s.mu.Lock()
	err = s.session.Run([]ort.Value{in}, outputs)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	result := make([]Tensor, len(outputs))
	for i, v := range outputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s is not a float32 tensor", s.outputNames[i])
		}
		data := t.GetData()
		result[i] = Tensor{
			Name:  s.outputNames[i],
			Shape: append([]int64(nil), t.GetShape()...),
			Data:  append([]float32(nil), data...),
		}
	}
	return result, nil
}

// Close releases session resources
func (s *Session) Close() error {
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		return err
	}
	return nil
}

// TensorInfo describes one model input or output
type TensorInfo struct {
	Name     string
	Shape    []int64
	DataType string
}

// ModelInfo is what a model file declares about itself
type ModelInfo struct {
	Inputs      []TensorInfo
	Outputs     []TensorInfo
	Producer    string
	Version     int64
	Description string
}

// Describe reads tensor declarations and metadata without creating a session
func Describe(modelPath string) (*ModelInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}

	info := &ModelInfo{
		Inputs:  tensorInfos(inputs),
		Outputs: tensorInfos(outputs),
	}

	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return info, nil
	}
	defer metadata.Destroy()

	if producer, err := metadata.GetProducerName(); err == nil {
		info.Producer = producer
	}
	if version, err := metadata.GetVersion(); err == nil {
		info.Version = version
	}
	if desc, err := metadata.GetDescription(); err == nil {
		info.Description = desc
	}
	return info, nil
}

func tensorInfos(in []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, len(in))
	for i, v := range in {
		out[i] = TensorInfo{
			Name:     v.Name,
			Shape:    append([]int64(nil), v.Dimensions...),
			DataType: fmt.Sprintf("%v", v.DataType),
		}
	}
	return out
}
