package dto

import "ssddetect/internal/detect"

// DetectResponse is the JSON body returned by the detect endpoint.
type DetectResponse struct {
	RunID      int64              `json:"runId,omitempty"`
	Source     string             `json:"source"`
	Text       string             `json:"text"`
	Detections []detect.Detection `json:"detections"`
	ElapsedMs  int64              `json:"elapsedMs"`
}

// ViewerFrame is pushed to websocket viewers after every detection.
type ViewerFrame struct {
	Source string `json:"source"`
	Image  string `json:"image"`
	Text   string `json:"text"`
}
