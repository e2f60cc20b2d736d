package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"ssddetect/internal/logger"
)

// ShowLogsHandler serves one of the logger's files as text/plain.
func ShowLogsHandler(l *logger.Logger, fileName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveLogFile(w, r, l.LogDirectory(), fileName)
	}
}

// serveLogFile sets headers and serves a log file if it exists.
func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string) {
	filePath := filepath.Join(logDir, filename)

	if _, err := os.Stat(filePath); logDir == "" || os.IsNotExist(err) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Log file not found: " + filename))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	http.ServeFile(w, r, filePath)
}

// ClearLogsHandler truncates one of the logger's files.
func ClearLogsHandler(l *logger.Logger, fileName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := l.CleanLogs(fileName); err != nil {
			http.Error(w, "Unable to clear "+fileName, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
