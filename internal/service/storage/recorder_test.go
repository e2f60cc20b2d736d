package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ssddetect/internal/config"
	"ssddetect/internal/detect"
	"ssddetect/internal/dto"
	"ssddetect/internal/logger"
	"ssddetect/internal/model"
	"ssddetect/internal/repository"
	"ssddetect/internal/repository/sqlite"
)

var fixedTime = time.Date(2026, 10, 19, 8, 15, 30, 250000000, time.UTC)

func TestFilename(t *testing.T) {
	dets := []detect.Detection{{Label: "person"}, {Label: "traffic light"}, {Label: "person"}}

	got := Filename(fixedTime, "front door/1", dets)
	want := "2026-10-19_08-15-30.250_front-door-1_person_traffic-light.jpg"
	if got != want {
		t.Errorf("Filename() = %q, want %q", got, want)
	}

	if got := Filename(fixedTime, "", nil); got != "2026-10-19_08-15-30.250_unnamed.jpg" {
		t.Errorf("unexpected filename for empty source: %q", got)
	}
}

func newTestRecorder(t *testing.T) (*Recorder, *sqlite.DB, string) {
	t.Helper()

	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{OutputDir: filepath.Join(dir, "output"), ModelPath: "/models/ssd-12.onnx"}
	rec := NewRecorder(cfg, logger.NewNop(), sqlite.NewRunRepository(db), sqlite.NewDetectionRepository(db))
	rec.now = func() time.Time { return fixedTime }
	return rec, db, cfg.OutputDir
}

func TestRecorder_Record(t *testing.T) {
	rec, db, outputDir := newTestRecorder(t)

	dets := []detect.Detection{
		{Label: "person", ClassID: 1, Score: 0.9, X1: 1, Y1: 2, X2: 3, Y2: 4},
		{Label: "car", ClassID: 3, Score: 0.6, X1: 5, Y1: 6, X2: 7, Y2: 8},
	}
	image := []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}

	runID, err := rec.Record("cli", 640, 480, dets, image)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	run, err := sqlite.NewRunRepository(db).GetByID(runID)
	if err != nil || run == nil {
		t.Fatalf("Failed to load recorded run: %v", err)
	}
	if run.Model != "ssd-12.onnx" || run.Width != 640 || run.Height != 480 {
		t.Errorf("unexpected run %+v", run)
	}

	wantPath := filepath.Join(outputDir, "2026-10-19_08-15-30.250_cli_person_car.jpg")
	if run.OutputPath != wantPath {
		t.Errorf("OutputPath = %q, want %q", run.OutputPath, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil || len(data) != len(image) {
		t.Errorf("expected annotated image on disk (%v)", err)
	}

	stored, err := sqlite.NewDetectionRepository(db).GetByRunID(runID)
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if len(stored) != 2 || stored[0].Label != "person" || stored[1].ClassID != 3 {
		t.Errorf("unexpected stored detections %+v", stored)
	}
}

func TestRecorder_SameNameDoesNotOverwrite(t *testing.T) {
	rec, db, outputDir := newTestRecorder(t)
	dets := []detect.Detection{{Label: "person", ClassID: 1, Score: 0.9}}

	firstID, err := rec.Record("cam", 8, 8, dets, []byte("first"))
	if err != nil {
		t.Fatalf("first Record failed: %v", err)
	}
	secondID, err := rec.Record("cam", 8, 8, dets, []byte("second"))
	if err != nil {
		t.Fatalf("second Record failed: %v", err)
	}

	runRepo := sqlite.NewRunRepository(db)
	first, _ := runRepo.GetByID(firstID)
	second, _ := runRepo.GetByID(secondID)
	if first == nil || second == nil {
		t.Fatal("both runs should be stored")
	}
	if first.OutputPath == second.OutputPath {
		t.Fatalf("runs share image %s", first.OutputPath)
	}

	wantSecond := filepath.Join(outputDir, "2026-10-19_08-15-30.250_cam_person-1.jpg")
	if second.OutputPath != wantSecond {
		t.Errorf("second OutputPath = %q, want %q", second.OutputPath, wantSecond)
	}
	for path, want := range map[string]string{first.OutputPath: "first", second.OutputPath: "second"} {
		if data, err := os.ReadFile(path); err != nil || string(data) != want {
			t.Errorf("%s holds %q (%v), want %q", path, data, err, want)
		}
	}
}

func TestRecorder_RecordWithoutImageOrDetections(t *testing.T) {
	rec, db, outputDir := newTestRecorder(t)

	runID, err := rec.Record("cli", 10, 10, nil, nil)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if _, err := os.Stat(outputDir); !os.IsNotExist(err) {
		t.Errorf("output directory should not be created without an image")
	}

	count, _ := sqlite.NewRunRepository(db).GetTotalCount(&dto.RunFilters{})
	if count != 1 || runID == 0 {
		t.Errorf("expected one recorded run, got count=%d id=%d", count, runID)
	}
}

type failingRunRepo struct{ repository.RunRepository }

func (failingRunRepo) Insert(run *model.Run) (int64, error) {
	return 0, errors.New("disk full")
}

func TestRecorder_RecordInsertError(t *testing.T) {
	cfg := &config.Config{OutputDir: t.TempDir(), ModelPath: "m.onnx"}
	rec := NewRecorder(cfg, logger.NewNop(), failingRunRepo{}, nil)

	if _, err := rec.Record("cli", 1, 1, nil, nil); err == nil {
		t.Error("expected error from failing repository")
	}
}

func TestRecorder_NoRepositories(t *testing.T) {
	cfg := &config.Config{OutputDir: t.TempDir(), ModelPath: "m.onnx"}
	rec := NewRecorder(cfg, logger.NewNop(), nil, nil)

	runID, err := rec.Record("cli", 1, 1, nil, []byte{1})
	if err != nil || runID != 0 {
		t.Errorf("expected (0, nil), got (%d, %v)", runID, err)
	}
}
