package sqlite_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ssddetect/internal/dto"
	"ssddetect/internal/model"
	"ssddetect/internal/repository/sqlite"
)

func seedRuns(t *testing.T, db *sqlite.DB) []int64 {
	t.Helper()

	runRepo := sqlite.NewRunRepository(db)
	detRepo := sqlite.NewDetectionRepository(db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	runs := []struct {
		source string
		labels []string
	}{
		{"cli", []string{"person", "car"}},
		{"front_door", []string{"person"}},
		{"front_door", []string{"dog"}},
		{"cli", nil},
	}

	var ids []int64
	for i, r := range runs {
		id, err := runRepo.Insert(&model.Run{
			Source:    r.source,
			Model:     "ssd-12.onnx",
			Width:     640,
			Height:    480,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("Insert run %d failed: %v", i, err)
		}

		var dets []model.Detection
		for _, label := range r.labels {
			dets = append(dets, model.Detection{RunID: id, Label: label, Score: 0.8})
		}
		if err := detRepo.InsertBatch(dets); err != nil {
			t.Fatalf("Insert detections for run %d failed: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func runIDs(runs []model.Run) []int64 {
	ids := make([]int64, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestRunRepository_InsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewRunRepository(db)

	created := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	id, err := repo.Insert(&model.Run{
		Source:     "cli",
		Model:      "ssd-12.onnx",
		Width:      1920,
		Height:     1080,
		OutputPath: "output/1.jpg",
		CreatedAt:  created,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id <= 0 {
		t.Errorf("Expected positive ID, got %d", id)
	}

	got, err := repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected run, got nil")
	}

	want := &model.Run{ID: id, Source: "cli", Model: "ssd-12.onnx", Width: 1920, Height: 1080, OutputPath: "output/1.jpg"}
	if diff := cmp.Diff(want, got, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".CreatedAt"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("GetByID mismatch (-want +got):\n%s", diff)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
}

func TestRunRepository_GetByID_Missing(t *testing.T) {
	db := setupTestDB(t)

	got, err := sqlite.NewRunRepository(db).GetByID(999)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing run, got %+v", got)
	}
}

func TestRunRepository_GetAll_Filters(t *testing.T) {
	db := setupTestDB(t)
	ids := seedRuns(t, db)
	repo := sqlite.NewRunRepository(db)

	tests := []struct {
		name   string
		filter *dto.RunFilters
		want   []int64
	}{
		{"all newest first", &dto.RunFilters{}, []int64{ids[3], ids[2], ids[1], ids[0]}},
		{"by source", &dto.RunFilters{Source: "front_door"}, []int64{ids[2], ids[1]}},
		{"by label", &dto.RunFilters{Label: "person"}, []int64{ids[1], ids[0]}},
		{"by source and label", &dto.RunFilters{Source: "cli", Label: "car"}, []int64{ids[0]}},
		{"after", &dto.RunFilters{After: time.Date(2026, 3, 1, 13, 30, 0, 0, time.UTC)}, []int64{ids[3], ids[2]}},
		{"before", &dto.RunFilters{Before: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)}, []int64{ids[0]}},
		{"paged", &dto.RunFilters{Limit: 2, Offset: 1}, []int64{ids[2], ids[1]}},
		{"no match", &dto.RunFilters{Label: "giraffe"}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := repo.GetAll(tt.filter)
			if err != nil {
				t.Fatalf("GetAll failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, runIDs(runs)); diff != "" {
				t.Errorf("GetAll mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunRepository_GetTotalCountIgnoresPaging(t *testing.T) {
	db := setupTestDB(t)
	seedRuns(t, db)
	repo := sqlite.NewRunRepository(db)

	count, err := repo.GetTotalCount(&dto.RunFilters{Source: "cli", Limit: 1})
	if err != nil {
		t.Fatalf("GetTotalCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 cli runs, got %d", count)
	}
}

func TestRunRepository_GetStats(t *testing.T) {
	db := setupTestDB(t)
	seedRuns(t, db)

	stats, err := sqlite.NewRunRepository(db).GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	want := &model.RunStats{
		TotalRuns:       4,
		TotalDetections: 4,
		PerSource:       map[string]int{"cli": 2, "front_door": 2},
		LabelCounts:     map[string]int{"person": 2, "car": 1, "dog": 1},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("GetStats mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRepository_GetStatsCountsEveryLabel(t *testing.T) {
	db := setupTestDB(t)
	runRepo := sqlite.NewRunRepository(db)
	detRepo := sqlite.NewDetectionRepository(db)

	runID, err := runRepo.Insert(&model.Run{Source: "cli", Model: "ssd.onnx"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	names := []string{"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train",
		"truck", "boat", "traffic light", "fire hydrant", "stop sign"}
	dets := make([]model.Detection, 0, len(names))
	for _, name := range names {
		dets = append(dets, model.Detection{RunID: runID, Label: name, Score: 0.9})
	}
	if err := detRepo.InsertBatch(dets); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	stats, err := runRepo.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if len(stats.LabelCounts) != len(names) {
		t.Errorf("expected %d labels in stats, got %d", len(names), len(stats.LabelCounts))
	}
}

func TestRunRepository_DeleteCascades(t *testing.T) {
	db := setupTestDB(t)
	ids := seedRuns(t, db)
	runRepo := sqlite.NewRunRepository(db)
	detRepo := sqlite.NewDetectionRepository(db)

	if err := runRepo.Delete(ids[0]); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	dets, err := detRepo.GetByRunID(ids[0])
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("Expected 0 detections after delete, got %d", len(dets))
	}

	if err := runRepo.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	count, _ := runRepo.GetTotalCount(nil)
	if count != 0 {
		t.Errorf("Expected 0 runs after DeleteAll, got %d", count)
	}
	labels, _ := detRepo.GetAllLabels()
	if len(labels) != 0 {
		t.Errorf("Expected no labels after DeleteAll, got %v", labels)
	}
}
