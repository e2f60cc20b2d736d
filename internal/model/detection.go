package model

// Detection represents a detected object stored for a run.
type Detection struct {
	ID      int64   `json:"id"`
	RunID   int64   `json:"run_id"`
	Label   string  `json:"label"`
	ClassID int64   `json:"class_id"`
	Score   float64 `json:"score"`
	X1      float64 `json:"x1"`
	Y1      float64 `json:"y1"`
	X2      float64 `json:"x2"`
	Y2      float64 `json:"y2"`
}
