package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"ssddetect/internal/dto"
	"ssddetect/internal/logger"
	"ssddetect/internal/repository"
)

// DefaultPageSize is used when the request does not set a limit.
const DefaultPageSize = 24

// GetRunsHandler returns a filtered page of recorded runs.
func GetRunsHandler(logger *logger.Logger, runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), DefaultPageSize)

		filter := &dto.RunFilters{
			Source: q.Get("source"),
			Label:  q.Get("label"),
			After:  parseDate(q.Get("after")),
			Before: endOfDay(parseDate(q.Get("before"))),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}

		runs, err := runRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying runs from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := runRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting runs: %v", err)
			totalCount = len(runs)
		}

		infos := make([]dto.RunInfo, 0, len(runs))
		for _, run := range runs {
			detections, err := detectionRepo.GetByRunID(run.ID)
			if err != nil {
				logger.Error("Error getting detections for run %d: %v", run.ID, err)
			}

			labels, err := detectionRepo.GetLabelsByRunID(run.ID)
			if err != nil {
				logger.Error("Error getting labels for run %d: %v", run.ID, err)
				labels = []string{}
			}

			infos = append(infos, dto.RunInfo{
				ID:         run.ID,
				Source:     run.Source,
				CreatedAt:  run.CreatedAt,
				Labels:     labels,
				Detections: len(detections),
			})
		}

		data := dto.RunsData{
			Runs:        infos,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}
		writeJSON(w, logger, data)
	}
}

// GetRunStatsHandler returns aggregate counts over the whole history.
func GetRunStatsHandler(logger *logger.Logger, runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := runRepo.GetStats()
		if err != nil {
			logger.Error("Error computing run stats: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		labels, err := detectionRepo.GetAllLabels()
		if err != nil {
			logger.Error("Error listing labels: %v", err)
			labels = []string{}
		}

		writeJSON(w, logger, map[string]interface{}{
			"stats":  stats,
			"labels": labels,
		})
	}
}

// ViewRunHandler serves the annotated image of the run given by "id".
func ViewRunHandler(logger *logger.Logger, runRepo repository.RunRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := runID(w, r)
		if !ok {
			return
		}

		run, err := runRepo.GetByID(id)
		if err != nil {
			logger.Error("Error loading run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if run == nil || run.OutputPath == "" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, run.OutputPath)
	}
}

// DeleteRunHandler removes a run, its detections and its image.
func DeleteRunHandler(logger *logger.Logger, runRepo repository.RunRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, ok := runID(w, r)
		if !ok {
			return
		}

		run, err := runRepo.GetByID(id)
		if err != nil {
			logger.Error("Error loading run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.NotFound(w, r)
			return
		}

		if run.OutputPath != "" {
			if err := os.Remove(run.OutputPath); err != nil && !os.IsNotExist(err) {
				logger.Error("Failed to delete file %s: %v", run.OutputPath, err)
			}
		}

		if err := runRepo.Delete(id); err != nil {
			logger.Error("Failed to delete run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("Deleted run %d", id)
		writeJSON(w, logger, map[string]interface{}{"status": "deleted", "id": id})
	}
}

// ClearRunsHandler deletes every run and every annotated image on record.
func ClearRunsHandler(logger *logger.Logger, runRepo repository.RunRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		runs, err := runRepo.GetAll(nil)
		if err != nil {
			logger.Error("Error listing runs: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		for _, run := range runs {
			if run.OutputPath == "" {
				continue
			}
			if err := os.Remove(run.OutputPath); err != nil && !os.IsNotExist(err) {
				logger.Error("Error deleting file %s: %v", run.OutputPath, err)
			}
		}

		if err := runRepo.DeleteAll(); err != nil {
			logger.Error("Error clearing database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("Cleared %d run(s)", len(runs))
		w.WriteHeader(http.StatusNoContent)
	}
}

func runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Valid id required", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date in the format "2006-01-02" (HTML input format) as UTC.
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// endOfDay makes a date filter inclusive of the whole day.
func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24*time.Hour - time.Nanosecond)
}
