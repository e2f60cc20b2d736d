package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"ssddetect/internal/config"
	"ssddetect/internal/detect"
	"ssddetect/internal/logger"
	"ssddetect/internal/model"
	"ssddetect/internal/repository"
)

// timestampLayout is used in annotated image filenames.
const timestampLayout = "2006-01-02_15-04-05.000"

// maxNameAttempts bounds the suffixes tried for images written in the same
// millisecond with the same name.
const maxNameAttempts = 1000

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// Recorder persists annotated images and their detections.
type Recorder struct {
	outputDir     string
	modelName     string
	logger        *logger.Logger
	runRepo       repository.RunRepository
	detectionRepo repository.DetectionRepository
	now           func() time.Time
}

// NewRecorder creates a Recorder. Either repository may be nil, in which
// case only the image is written.
func NewRecorder(cfg *config.Config, logger *logger.Logger, runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) *Recorder {
	return &Recorder{
		outputDir:     cfg.OutputDir,
		modelName:     filepath.Base(cfg.ModelPath),
		logger:        logger,
		runRepo:       runRepo,
		detectionRepo: detectionRepo,
		now:           time.Now,
	}
}

// Record writes the annotated image (if any) and stores the run. It returns
// the run ID, or 0 when no run repository is configured.
func (s *Recorder) Record(source string, width, height int, detections []detect.Detection, annotated []byte) (int64, error) {
	createdAt := s.now()

	var outputPath string
	if len(annotated) > 0 {
		path, err := s.writeImage(createdAt, source, detections, annotated)
		if err != nil {
			return 0, err
		}
		outputPath = path
	}

	if s.runRepo == nil {
		return 0, nil
	}

	runID, err := s.runRepo.Insert(&model.Run{
		Source:     source,
		Model:      s.modelName,
		Width:      width,
		Height:     height,
		OutputPath: outputPath,
		CreatedAt:  createdAt,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}

	if s.detectionRepo != nil && len(detections) > 0 {
		rows := make([]model.Detection, 0, len(detections))
		for _, d := range detections {
			rows = append(rows, model.Detection{
				RunID:   runID,
				Label:   d.Label,
				ClassID: d.ClassID,
				Score:   float64(d.Score),
				X1:      float64(d.X1),
				Y1:      float64(d.Y1),
				X2:      float64(d.X2),
				Y2:      float64(d.Y2),
			})
		}
		if err := s.detectionRepo.InsertBatch(rows); err != nil {
			return runID, fmt.Errorf("failed to record detections: %w", err)
		}
	}

	s.logger.Info("Recorded run %d from %s with %d detection(s)", runID, source, len(detections))
	return runID, nil
}

// writeImage stores the annotated image named after time, source and labels.
// An existing file is never replaced; a numeric suffix is added instead.
func (s *Recorder) writeImage(createdAt time.Time, source string, detections []detect.Detection, data []byte) (string, error) {
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := Filename(createdAt, source, detections)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		fullpath := filepath.Join(s.outputDir, name)
		f, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			name = fmt.Sprintf("%s-%d.jpg", stem, attempt+1)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create image %s: %w", fullpath, err)
		}

		_, err = f.Write(data)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(fullpath)
			return "", fmt.Errorf("failed to save image %s: %w", fullpath, err)
		}
		return fullpath, nil
	}
	return "", fmt.Errorf("failed to find a free file name for %s", stem)
}

// Filename builds "<timestamp>_<source>[_<label>...].jpg" with each label
// listed once, in detection order.
func Filename(createdAt time.Time, source string, detections []detect.Detection) string {
	parts := []string{createdAt.Format(timestampLayout), sanitize(source)}

	seen := make(map[string]bool)
	for _, d := range detections {
		label := sanitize(d.Label)
		if seen[label] {
			continue
		}
		seen[label] = true
		parts = append(parts, label)
	}
	return strings.Join(parts, "_") + ".jpg"
}

func sanitize(s string) string {
	s = strings.Trim(unsafeChars.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "unnamed"
	}
	return s
}
