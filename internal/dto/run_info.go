package dto

import (
	"encoding/json"
	"time"
)

// RunInfo is a run as listed by the history endpoint.
type RunInfo struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"createdAt"`
	Labels     []string  `json:"labels"`
	Detections int       `json:"detections"`
}

// MarshalJSON formats the timestamp the way the history page displays it.
func (r RunInfo) MarshalJSON() ([]byte, error) {
	type Alias RunInfo
	return json.Marshal(&struct {
		CreatedAt string `json:"createdAt"`
		Alias
	}{
		CreatedAt: r.CreatedAt.Format("2006-01-02 15:04:05"),
		Alias:     (Alias)(r),
	})
}
