package model

import "time"

// Run represents one detection pass over one image.
type Run struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Model      string    `json:"model"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	OutputPath string    `json:"output_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunStats summarizes the stored history.
type RunStats struct {
	TotalRuns       int            `json:"total_runs"`
	TotalDetections int            `json:"total_detections"`
	PerSource       map[string]int `json:"per_source"`
	LabelCounts     map[string]int `json:"label_counts"`
}
