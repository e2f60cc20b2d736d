package inference

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"ssddetect/internal/preprocess"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment initializes the ONNX Runtime environment once per process.
func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath == "" {
			libraryPath = defaultLibraryPath()
		}
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// defaultLibraryPath returns the platform's usual onnxruntime library name,
// or "" to keep the binding's own default.
func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	case "linux":
		return "libonnxruntime.so"
	}
	return ""
}

// ONNXSession runs a model through ONNX Runtime.
type ONNXSession struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	input   string
	outputs []string
}

// NewONNXSession loads the model and binds its image input and the first
// three outputs (boxes, labels, scores).
func NewONNXSession(opts Options) (*ONNXSession, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model io info: %w", err)
	}
	inputName, err := pickInput(opts.InputName, ioNames(inputs))
	if err != nil {
		return nil, err
	}
	outputNames := ioNames(outputs)
	if len(outputNames) < 3 {
		return nil, fmt.Errorf("%w: model has %d outputs, need boxes, labels and scores", ErrMalformedOutput, len(outputNames))
	}
	outputNames = outputNames[:3]

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath, []string{inputName}, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &ONNXSession{session: session, input: inputName, outputs: outputNames}, nil
}

func ioNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

// pickInput returns want if the model declares it. A model with a single
// input is accepted under any name.
func pickInput(want string, available []string) (string, error) {
	for _, name := range available {
		if name == want {
			return name, nil
		}
	}
	if len(available) == 1 {
		return available[0], nil
	}
	return "", fmt.Errorf("model has no input named %q (inputs: %v)", want, available)
}

// Run executes one forward pass.
func (s *ONNXSession) Run(ctx context.Context, input *preprocess.Tensor) (*Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, ErrSessionClosed
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape[:]...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	results := make([]ort.Value, len(s.outputs))
	if err := s.session.Run([]ort.Value{inputTensor}, results); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	defer func() {
		for _, v := range results {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	boxes, ok := results[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: boxes output is %T, want float32 tensor", ErrMalformedOutput, results[0])
	}
	labels, ok := results[1].(*ort.Tensor[int64])
	if !ok {
		return nil, fmt.Errorf("%w: labels output is %T, want int64 tensor", ErrMalformedOutput, results[1])
	}
	scores, ok := results[2].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: scores output is %T, want float32 tensor", ErrMalformedOutput, results[2])
	}

	// Tensor data is owned by onnxruntime and freed on Destroy.
	out := &Outputs{
		Boxes:  append([]float32(nil), boxes.GetData()...),
		Labels: append([]int64(nil), labels.GetData()...),
		Scores: append([]float32(nil), scores.GetData()...),
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the session. Closing twice is a no-op.
func (s *ONNXSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
