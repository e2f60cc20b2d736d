package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"ssddetect/internal/logger"
)

// Client is the part of a websocket connection the hub writes to.
type Client interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// HubService fans detection frames out to connected viewers.
type HubService struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan Client),
		unregister: make(chan Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every remaining client. It must be called at most once.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a viewer. After the hub has stopped the client is closed
// instead.
func (h *HubService) Register(client Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes a viewer. It returns immediately once the
// hub has stopped, since Run already closed every client.
func (h *HubService) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for all viewers. It drops the message when the
// queue is full so a slow viewer never stalls a detection request.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.logger.Warning("Broadcast queue full, dropping frame")
		return false
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
