package sqlite

import (
	"fmt"

	"ssddetect/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds multiple detections in a single transaction.
func (r *DetectionRepository) InsertBatch(detections []model.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (run_id, label, class_id, score, x1, y1, x2, y2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		if _, err := stmt.Exec(det.RunID, det.Label, det.ClassID, det.Score, det.X1, det.Y1, det.X2, det.Y2); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// GetByRunID retrieves all detections for a run in insertion order.
func (r *DetectionRepository) GetByRunID(runID int64) ([]model.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, run_id, label, class_id, score, x1, y1, x2, y2
		FROM detections WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.Detection
	for rows.Next() {
		var det model.Detection
		if err := rows.Scan(&det.ID, &det.RunID, &det.Label, &det.ClassID, &det.Score, &det.X1, &det.Y1, &det.X2, &det.Y2); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}

	return detections, rows.Err()
}

// GetLabelsByRunID returns the distinct labels found in a run.
func (r *DetectionRepository) GetLabelsByRunID(runID int64) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.queryStrings(`SELECT DISTINCT label FROM detections WHERE run_id = ? ORDER BY label`, runID)
}

// GetAllLabels returns every label ever detected.
func (r *DetectionRepository) GetAllLabels() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.queryStrings(`SELECT DISTINCT label FROM detections ORDER BY label`)
}

func (r *DetectionRepository) queryStrings(query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
