package inference

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"ssddetect/internal/preprocess"
)

// OpenCVSession runs a model through the OpenCV DNN module.
type OpenCVSession struct {
	mu      sync.Mutex
	net     gocv.Net
	open    bool
	input   string
	outputs []string
}

// NewOpenCVSession loads an ONNX model into OpenCV DNN on the CPU target.
func NewOpenCVSession(opts Options) (*OpenCVSession, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}

	net := gocv.ReadNetFromONNX(opts.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", opts.ModelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if err := multierr.Combine(errBackend, errTarget); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target: %w", err)
	}

	var outputs []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		outputs = append(outputs, layer.GetName())
		layer.Close()
	}
	if len(outputs) < 3 {
		net.Close()
		return nil, fmt.Errorf("%w: network has %d outputs, need boxes, labels and scores", ErrMalformedOutput, len(outputs))
	}

	return &OpenCVSession{net: net, open: true, input: opts.InputName, outputs: outputs[:3]}, nil
}

// Run executes one forward pass.
func (s *OpenCVSession) Run(ctx context.Context, input *preprocess.Tensor) (*Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, ErrSessionClosed
	}

	blob, err := blobFromTensor(input)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	if err := s.net.SetInput(blob, s.input); err != nil {
		return nil, fmt.Errorf("failed to set network input: %w", err)
	}

	mats := s.net.ForwardLayers(s.outputs)
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()
	if len(mats) < 3 {
		return nil, fmt.Errorf("%w: forward returned %d outputs", ErrMalformedOutput, len(mats))
	}

	boxes, err := matFloat32s(mats[0])
	if err != nil {
		return nil, fmt.Errorf("boxes: %w", err)
	}
	labels, err := matInt64s(mats[1])
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	scores, err := matFloat32s(mats[2])
	if err != nil {
		return nil, fmt.Errorf("scores: %w", err)
	}

	out := &Outputs{Boxes: boxes, Labels: labels, Scores: scores}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the network. Closing twice is a no-op.
func (s *OpenCVSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false
	return s.net.Close()
}

// blobFromTensor copies an NCHW tensor into a 4-D CV_32F Mat.
func blobFromTensor(t *preprocess.Tensor) (gocv.Mat, error) {
	sizes := make([]int, len(t.Shape))
	for i, d := range t.Shape {
		sizes[i] = int(d)
	}
	blob, err := gocv.NewMatWithSizesFromBytes(sizes, gocv.MatTypeCV32F, float32Bytes(t.Data))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to create input blob: %w", err)
	}
	return blob, nil
}

func float32Bytes(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.NativeEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// matFloat32s copies a Mat's elements into a float32 slice.
func matFloat32s(m gocv.Mat) ([]float32, error) {
	switch m.Type() {
	case gocv.MatTypeCV32F:
		data, err := m.DataPtrFloat32()
		if err != nil {
			return nil, err
		}
		return append([]float32(nil), data...), nil
	case gocv.MatTypeCV64F:
		data, err := m.DataPtrFloat64()
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported mat type %v", ErrMalformedOutput, m.Type())
	}
}

// matInt64s copies a Mat's elements into an int64 slice. OpenCV DNN may
// report integer outputs as float or int32 Mats.
func matInt64s(m gocv.Mat) ([]int64, error) {
	switch m.Type() {
	case gocv.MatTypeCV32S:
		data, err := m.DataPtrInt32()
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(data))
		for i, v := range data {
			out[i] = int64(v)
		}
		return out, nil
	default:
		floats, err := matFloat32s(m)
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(floats))
		for i, v := range floats {
			out[i] = int64(math.Round(float64(v)))
		}
		return out, nil
	}
}
