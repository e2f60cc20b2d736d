package service

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"ssddetect/internal/detect"
	"ssddetect/internal/dto"
	"ssddetect/internal/logger"
	"ssddetect/internal/service/ai"
)

// Detector runs one detection pass over an encoded image and returns the
// result with the annotated image re-encoded as JPEG.
type Detector interface {
	DetectBytes(ctx context.Context, data []byte) (*ai.Result, []byte, error)
}

// Recorder persists a finished run.
type Recorder interface {
	Record(source string, width, height int, detections []detect.Detection, annotated []byte) (int64, error)
}

// Broadcaster pushes a message to live viewers.
type Broadcaster interface {
	Broadcast(message []byte) bool
}

// Manager ties a detection pass to recording and viewer fan-out.
type Manager struct {
	detector    Detector
	recorder    Recorder
	broadcaster Broadcaster
	logger      *logger.Logger
}

// NewManager creates a Manager. recorder and broadcaster may be nil.
func NewManager(detector Detector, recorder Recorder, broadcaster Broadcaster, logger *logger.Logger) *Manager {
	return &Manager{
		detector:    detector,
		recorder:    recorder,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// HandleUpload detects objects in an encoded image, stores the run and
// sends the annotated frame to viewers.
func (m *Manager) HandleUpload(ctx context.Context, source string, image []byte) (*dto.DetectResponse, error) {
	result, annotated, err := m.detector.DetectBytes(ctx, image)
	if err != nil {
		return nil, err
	}

	response := &dto.DetectResponse{
		Source:     source,
		Text:       result.Text,
		Detections: result.Detections,
		ElapsedMs:  result.Elapsed.Milliseconds(),
	}

	if m.recorder != nil {
		runID, err := m.recorder.Record(source, result.Width, result.Height, result.Detections, annotated)
		if err != nil {
			// The detection itself succeeded; the caller still gets it.
			m.logger.Error("Failed to record run from %s: %v", source, err)
		}
		response.RunID = runID
	}

	m.SendToViewers(source, annotated, result.Text)
	return response, nil
}

// SendToViewers broadcasts an annotated frame as a JSON message.
func (m *Manager) SendToViewers(source string, image []byte, text string) {
	if m.broadcaster == nil {
		return
	}

	msg, err := json.Marshal(dto.ViewerFrame{
		Source: source,
		Image:  base64.StdEncoding.EncodeToString(image),
		Text:   text,
	})
	if err != nil {
		m.logger.Error("Failed to encode viewer frame: %v", err)
		return
	}
	m.broadcaster.Broadcast(msg)
}
