// Package inference runs a single forward pass of an SSD detection model
// and returns its boxes, labels and scores outputs.
package inference

import (
	"context"
	"errors"
	"fmt"

	"ssddetect/internal/config"
	"ssddetect/internal/preprocess"
)

var (
	ErrSessionClosed   = errors.New("inference session is closed")
	ErrMalformedOutput = errors.New("malformed model output")
	ErrUnknownBackend  = errors.New("unknown inference backend")
)

// Outputs holds the first three model outputs flattened from
// boxes [1,N,4], labels [1,N] and scores [1,N].
type Outputs struct {
	Boxes  []float32
	Labels []int64
	Scores []float32
}

// Len returns the number of candidate detections.
func (o *Outputs) Len() int {
	return len(o.Scores)
}

// Validate checks that the three outputs describe the same candidates.
func (o *Outputs) Validate() error {
	n := len(o.Scores)
	if len(o.Boxes) != 4*n {
		return fmt.Errorf("%w: %d box values for %d scores", ErrMalformedOutput, len(o.Boxes), n)
	}
	if len(o.Labels) != n {
		return fmt.Errorf("%w: %d labels for %d scores", ErrMalformedOutput, len(o.Labels), n)
	}
	return nil
}

// Session is a loaded model ready to run forward passes.
type Session interface {
	Run(ctx context.Context, input *preprocess.Tensor) (*Outputs, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string
	ModelPath   string
	InputName   string
	LibraryPath string
}

// OptionsFromConfig builds Options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Backend:     cfg.Backend,
		ModelPath:   cfg.ModelPath,
		InputName:   cfg.InputName,
		LibraryPath: cfg.OrtLibraryPath,
	}
}

// Open loads the model with the requested backend.
func Open(opts Options) (Session, error) {
	switch opts.Backend {
	case config.BackendONNX, "":
		return NewONNXSession(opts)
	case config.BackendOpenCV:
		return NewOpenCVSession(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
