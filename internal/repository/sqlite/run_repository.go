package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ssddetect/internal/dto"
	"ssddetect/internal/model"
)

// RunRepository implements repository.RunRepository for SQLite.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new SQLite run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Insert adds a new run record. A zero CreatedAt is set to now.
func (r *RunRepository) Insert(run *model.Run) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := r.db.Conn().Exec(`
		INSERT INTO runs (source, model, width, height, output_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.Source, run.Model, run.Width, run.Height, run.OutputPath, createdAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	return result.LastInsertId()
}

// GetByID retrieves a run by its ID. A missing run is (nil, nil).
func (r *RunRepository) GetByID(id int64) (*model.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var run model.Run
	err := r.db.Conn().QueryRow(`
		SELECT id, source, model, width, height, output_path, created_at
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Source, &run.Model, &run.Width, &run.Height, &run.OutputPath, &run.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// whereClause builds the shared filter for list and count queries.
func whereClause(filter *dto.RunFilters) (string, []interface{}) {
	clause := " WHERE 1=1"
	args := []interface{}{}

	if filter == nil {
		return clause, args
	}

	if filter.Source != "" {
		clause += " AND r.source = ?"
		args = append(args, filter.Source)
	}

	if filter.Label != "" {
		clause += " AND EXISTS (SELECT 1 FROM detections d WHERE d.run_id = r.id AND d.label = ?)"
		args = append(args, filter.Label)
	}

	if !filter.After.IsZero() {
		clause += " AND r.created_at >= ?"
		args = append(args, filter.After.UTC())
	}

	if !filter.Before.IsZero() {
		clause += " AND r.created_at <= ?"
		args = append(args, filter.Before.UTC())
	}

	return clause, args
}

// GetAll returns runs matching the filter, newest first.
func (r *RunRepository) GetAll(filter *dto.RunFilters) ([]model.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	query := `
		SELECT r.id, r.source, r.model, r.width, r.height, r.output_path, r.created_at
		FROM runs r` + where + " ORDER BY r.created_at DESC, r.id DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var run model.Run
		if err := rows.Scan(&run.ID, &run.Source, &run.Model, &run.Width, &run.Height, &run.OutputPath, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetTotalCount returns the number of runs matching the filter, ignoring paging.
func (r *RunRepository) GetTotalCount(filter *dto.RunFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM runs r`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// GetStats returns statistics about the stored history.
func (r *RunRepository) GetStats() (*model.RunStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &model.RunStats{
		PerSource:   make(map[string]int),
		LabelCounts: make(map[string]int),
	}

	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&stats.TotalRuns); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&stats.TotalDetections); err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}

	if err := r.countInto(stats.PerSource, `SELECT source, COUNT(*) FROM runs GROUP BY source`); err != nil {
		return nil, err
	}

	// Every detected label
	if err := r.countInto(stats.LabelCounts, `
		SELECT label, COUNT(*) AS cnt
		FROM detections
		GROUP BY label
	`); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *RunRepository) countInto(dst map[string]int, query string) error {
	rows, err := r.db.Conn().Query(query)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan stats: %w", err)
		}
		dst[key] = count
	}
	return rows.Err()
}

// Delete removes a run and its detections.
func (r *RunRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// DeleteAll removes all runs and their detections.
func (r *RunRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM runs`); err != nil {
		return fmt.Errorf("failed to delete runs: %w", err)
	}
	return nil
}
