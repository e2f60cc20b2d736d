package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"ssddetect/internal/logger"
	hub "ssddetect/internal/service/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler registers viewers with the hub so they receive every
// annotated frame.
func ViewWebsocketHandler(hubService *hub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		hubService.Register(connection)
		defer hubService.Unregister(connection)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("Viewer closed connection")
				} else {
					logger.Warning("Viewer disconnected with error: %v", err)
				}
				return
			}
		}
	}
}
