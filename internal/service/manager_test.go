package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ssddetect/internal/detect"
	"ssddetect/internal/dto"
	"ssddetect/internal/logger"
	"ssddetect/internal/service/ai"
)

type fakeDetector struct {
	result *ai.Result
	image  []byte
	err    error
}

func (f *fakeDetector) DetectBytes(ctx context.Context, data []byte) (*ai.Result, []byte, error) {
	return f.result, f.image, f.err
}

type fakeRecorder struct {
	source     string
	detections []detect.Detection
	id         int64
	err        error
}

func (f *fakeRecorder) Record(source string, width, height int, detections []detect.Detection, annotated []byte) (int64, error) {
	f.source = source
	f.detections = detections
	return f.id, f.err
}

type fakeBroadcaster struct {
	messages [][]byte
}

func (f *fakeBroadcaster) Broadcast(message []byte) bool {
	f.messages = append(f.messages, message)
	return true
}

func sampleResult() *ai.Result {
	dets := []detect.Detection{{Label: "dog", ClassID: 18, Score: 0.75, X1: 10, Y1: 20, X2: 30, Y2: 40}}
	return &ai.Result{
		Detections: dets,
		Text:       detect.Format(dets),
		Width:      640,
		Height:     480,
		Elapsed:    42 * time.Millisecond,
	}
}

func TestManager_HandleUpload(t *testing.T) {
	det := &fakeDetector{result: sampleResult(), image: []byte("jpeg")}
	rec := &fakeRecorder{id: 7}
	hub := &fakeBroadcaster{}

	m := NewManager(det, rec, hub, logger.NewNop())
	resp, err := m.HandleUpload(context.Background(), "upload", []byte("raw"))
	if err != nil {
		t.Fatalf("HandleUpload failed: %v", err)
	}

	if resp.RunID != 7 || resp.ElapsedMs != 42 || resp.Source != "upload" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Text != "dog\t0.75\t10.0\t20.0\t30.0\t40.0" {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if diff := cmp.Diff(det.result.Detections, rec.detections); diff != "" {
		t.Errorf("recorded detections mismatch (-want +got):\n%s", diff)
	}

	if len(hub.messages) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(hub.messages))
	}
	var frame dto.ViewerFrame
	if err := json.Unmarshal(hub.messages[0], &frame); err != nil {
		t.Fatalf("invalid viewer frame: %v", err)
	}
	image, err := base64.StdEncoding.DecodeString(frame.Image)
	if err != nil {
		t.Fatalf("invalid viewer image: %v", err)
	}
	if frame.Source != "upload" || string(image) != "jpeg" || frame.Text != resp.Text {
		t.Errorf("unexpected frame %+v / %q", frame, image)
	}
}

func TestManager_HandleUploadDetectError(t *testing.T) {
	wantErr := errors.New("bad image")
	hub := &fakeBroadcaster{}
	m := NewManager(&fakeDetector{err: wantErr}, nil, hub, logger.NewNop())

	if _, err := m.HandleUpload(context.Background(), "x", nil); !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
	if len(hub.messages) != 0 {
		t.Error("nothing should be broadcast on failure")
	}
}

func TestManager_RecordFailureStillReturnsResult(t *testing.T) {
	det := &fakeDetector{result: sampleResult(), image: []byte("jpeg")}
	m := NewManager(det, &fakeRecorder{err: errors.New("locked")}, nil, logger.NewNop())

	resp, err := m.HandleUpload(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("record failure should not fail the request: %v", err)
	}
	if resp.RunID != 0 || len(resp.Detections) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
}

