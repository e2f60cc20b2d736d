package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"ssddetect/internal/dto"
	"ssddetect/internal/logger"
	"ssddetect/internal/service/ai"
)

// MaxUploadSize caps the request body accepted by the detect endpoint.
const MaxUploadSize = 32 << 20

// Uploader runs detection on an uploaded image.
type Uploader interface {
	HandleUpload(ctx context.Context, source string, image []byte) (*dto.DetectResponse, error)
}

// DetectHandler accepts an encoded image as the request body and answers
// with the detection lines, or JSON when the client asks for it.
func DetectHandler(uploader Uploader, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadSize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Image too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Unable to read image", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			http.Error(w, "Image body is required", http.StatusBadRequest)
			return
		}

		source := r.URL.Query().Get("source")
		if source == "" {
			source = "upload"
		}

		resp, err := uploader.HandleUpload(r.Context(), source, body)
		if err != nil {
			if errors.Is(err, ai.ErrEmptyImage) {
				http.Error(w, "Unable to decode image", http.StatusBadRequest)
				return
			}
			logger.Error("Detection failed for %s: %v", source, err)
			http.Error(w, "Detection failed", http.StatusInternalServerError)
			return
		}

		if strings.Contains(r.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(resp); err != nil {
				logger.Error("Error encoding JSON response: %v", err)
			}
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, resp.Text)
	}
}

// ViewerCounter reports how many live viewers are connected.
type ViewerCounter interface {
	GetClientCount() int
}

// HealthHandler reports that the server is up and how many viewers are
// connected.
func HealthHandler(viewers ViewerCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"viewers": viewers.GetClientCount(),
		})
	}
}
