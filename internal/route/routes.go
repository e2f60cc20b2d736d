package route

import (
	"net/http"

	"ssddetect/internal/handler"
	"ssddetect/internal/logger"
	"ssddetect/internal/repository"
	"ssddetect/internal/service"
	"ssddetect/internal/service/websocket"
)

// SetupRoutes registers the detection API, run history, the viewer
// websocket and the log endpoints.
func SetupRoutes(manager *service.Manager, hub *websocket.HubService, log *logger.Logger,
	runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", handler.HealthHandler(hub))

	// API endpoints
	mux.HandleFunc("/api/detect", handler.DetectHandler(manager, log))
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(hub, log))
	mux.HandleFunc("/api/runs", handler.GetRunsHandler(log, runRepo, detectionRepo))
	mux.HandleFunc("/api/runs/stats", handler.GetRunStatsHandler(log, runRepo, detectionRepo))
	mux.HandleFunc("/api/runs/view", handler.ViewRunHandler(log, runRepo))
	mux.HandleFunc("/api/runs/delete", handler.DeleteRunHandler(log, runRepo))
	mux.HandleFunc("/api/runs/clear", handler.ClearRunsHandler(log, runRepo))

	// Log endpoints
	for name, file := range map[string]string{
		"info":    logger.InfoFile,
		"warning": logger.WarningFile,
		"error":   logger.ErrorFile,
	} {
		mux.HandleFunc("/logs/"+name, handler.ShowLogsHandler(log, file))
		mux.HandleFunc("/logs/"+name+"/clear", handler.ClearLogsHandler(log, file))
	}

	return mux
}
