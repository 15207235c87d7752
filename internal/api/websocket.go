package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ActivityHub fans operational events (imports, publishes, indexing) out to
// connected operator dashboards.
type ActivityHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
}

func NewActivityHub() *ActivityHub {
	return &ActivityHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run is the hub's event loop. Started once by NewServer.
func (h *ActivityHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish broadcasts one activity event to all connected dashboards. Safe
// to call from any goroutine; drops the event if the hub is backed up.
func (h *ActivityHub) Publish(kind, message string) {
	data, _ := json.Marshal(map[string]string{
		"type":    kind,
		"message": message,
		"at":      time.Now().UTC().Format(time.RFC3339),
	})
	select {
	case h.broadcast <- data:
	default:
	}
}

// handleActivityFeed upgrades the connection and registers it with the hub.
func (s *Server) handleActivityFeed(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Operator dashboards connect from the admin origin; the bearer
			// token check already ran in requireOperator.
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.hub.register <- conn

	go func() {
		defer func() {
			s.hub.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
