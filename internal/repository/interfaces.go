package repository

import (
	"ssddetect/internal/dto"
	"ssddetect/internal/model"
)

// RunRepository defines the interface for run history operations.
type RunRepository interface {
	// Create operations
	Insert(run *model.Run) (int64, error)

	// Read operations
	GetByID(id int64) (*model.Run, error)
	GetAll(filter *dto.RunFilters) ([]model.Run, error)
	GetTotalCount(filter *dto.RunFilters) (int, error)
	GetStats() (*model.RunStats, error)

	// Delete operations
	Delete(id int64) error
	DeleteAll() error
}

// DetectionRepository defines the interface for detection data operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.Detection) error

	// Read operations
	GetByRunID(runID int64) ([]model.Detection, error)
	GetLabelsByRunID(runID int64) ([]string, error)
	GetAllLabels() ([]string, error)
}
