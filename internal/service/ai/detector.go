package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"ssddetect/internal/annotate"
	"ssddetect/internal/config"
	"ssddetect/internal/detect"
	"ssddetect/internal/inference"
	"ssddetect/internal/logger"
	"ssddetect/internal/preprocess"
)

const (
	// DefaultInputSize is the square tensor size SSD-1200 models expect.
	DefaultInputSize = 1200
	// WindowTitle is used when results are shown on screen.
	WindowTitle = "Image"
)

var ErrEmptyImage = errors.New("decoded image is empty")

// openSession is swapped in tests.
var openSession = inference.Open

// Options controls a single detection pass.
type Options struct {
	InputWidth  int
	InputHeight int
	Threshold   float32
	Show        bool
}

// DefaultOptions returns 1200x1200 input, 0.5 threshold, no window.
func DefaultOptions() Options {
	return Options{
		InputWidth:  DefaultInputSize,
		InputHeight: DefaultInputSize,
		Threshold:   detect.DefaultThreshold,
	}
}

// OptionsFromConfig maps configuration onto detection options. Unset
// (non-positive) sizes keep the defaults.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.InputWidth > 0 {
		opts.InputWidth = cfg.InputWidth
	}
	if cfg.InputHeight > 0 {
		opts.InputHeight = cfg.InputHeight
	}
	opts.Threshold = float32(cfg.ScoreThreshold)
	opts.Show = cfg.ShowWindow
	return opts
}

// Result is what one detection pass produced.
type Result struct {
	Detections []detect.Detection `json:"detections"`
	Text       string             `json:"text"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Elapsed    time.Duration      `json:"elapsed"`
}

// DetectorService owns one loaded model and runs passes against it one at a time.
type DetectorService struct {
	session inference.Session
	opts    Options
	logger  *logger.Logger
	mu      sync.Mutex
}

// NewDetectorService wraps an already-open session.
func NewDetectorService(session inference.Session, opts Options, logger *logger.Logger) *DetectorService {
	return &DetectorService{
		session: session,
		opts:    opts,
		logger:  logger,
	}
}

// OpenDetectorService loads the configured model and wraps it.
func OpenDetectorService(cfg *config.Config, logger *logger.Logger) (*DetectorService, error) {
	session, err := openSession(inference.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", cfg.ModelPath, err)
	}
	logger.Info("Detection model %s loaded with %s backend", cfg.ModelPath, cfg.Backend)
	return NewDetectorService(session, OptionsFromConfig(cfg), logger), nil
}

// Options returns the options used for every pass.
func (s *DetectorService) Options() Options {
	return s.opts
}

// DetectMat runs the model on img, draws the detections onto img in place
// and returns them with their text rendering.
func (s *DetectorService) DetectMat(ctx context.Context, img *gocv.Mat) (*Result, error) {
	if img == nil || img.Empty() {
		return nil, ErrEmptyImage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	tensor, err := preprocess.FromMat(*img, s.opts.InputWidth, s.opts.InputHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare input tensor: %w", err)
	}
	s.logger.Debug("Prepared %dx%d input tensor", tensor.Width(), tensor.Height())

	outputs, err := s.session.Run(ctx, tensor)
	if err != nil {
		return nil, err
	}

	detections, err := detect.Decode(outputs, s.opts.Threshold, img.Cols(), img.Rows())
	if err != nil {
		return nil, fmt.Errorf("failed to decode outputs: %w", err)
	}

	if err := annotate.Draw(img, detections); err != nil {
		return nil, err
	}

	for _, d := range detections {
		s.logger.Debug("Detected %s (%.2f)", d.Label, d.Score)
	}

	result := &Result{
		Detections: detections,
		Text:       detect.Format(detections),
		Width:      img.Cols(),
		Height:     img.Rows(),
		Elapsed:    time.Since(start),
	}
	s.logger.Info("Detected %d object(s) in %dx%d image in %s", len(detections), result.Width, result.Height, result.Elapsed)

	if s.opts.Show {
		annotate.Show(*img, WindowTitle)
	}

	return result, nil
}

// DetectFile reads an image from disk in colour and runs DetectMat on it.
// The annotated image is returned so the caller can save it; the caller
// must Close it.
func (s *DetectorService) DetectFile(ctx context.Context, path string) (*Result, gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, gocv.Mat{}, fmt.Errorf("failed to read image %s: %w", path, ErrEmptyImage)
	}

	result, err := s.DetectMat(ctx, &img)
	if err != nil {
		img.Close()
		return nil, gocv.Mat{}, err
	}
	return result, img, nil
}

// DetectBytes decodes an encoded image, runs DetectMat and returns the
// annotated image re-encoded as JPEG.
func (s *DetectorService) DetectBytes(ctx context.Context, data []byte) (*Result, []byte, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, nil, ErrEmptyImage
	}

	result, err := s.DetectMat(ctx, &img)
	if err != nil {
		return nil, nil, err
	}

	annotated, err := annotate.Encode(img, gocv.JPEGFileExt)
	if err != nil {
		return nil, nil, err
	}
	return result, annotated, nil
}

// Close releases the model.
func (s *DetectorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Close()
}

// RunMatWithModel loads the model for this call only, detects on img, and
// releases the model again.
func RunMatWithModel(ctx context.Context, model inference.Options, img *gocv.Mat, opts Options, logger *logger.Logger) (result *Result, err error) {
	session, err := openSession(model)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", model.ModelPath, err)
	}

	service := NewDetectorService(session, opts, logger)
	defer func() {
		err = multierr.Append(err, service.Close())
	}()

	return service.DetectMat(ctx, img)
}

// RunFile reads imagePath, runs a one-shot detection with the model and
// returns the text rendering of the detections.
func RunFile(ctx context.Context, model inference.Options, imagePath string, opts Options, logger *logger.Logger) (string, error) {
	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	defer img.Close()

	if img.Empty() {
		return "", fmt.Errorf("failed to read image %s: %w", imagePath, ErrEmptyImage)
	}

	result, err := RunMatWithModel(ctx, model, &img, opts, logger)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
