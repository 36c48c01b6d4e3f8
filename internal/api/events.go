package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"obs-control-backend/internal/obs"
)

const (
	eventBuffer  = 16
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one message on the live feed.
type Event struct {
	Type   string           `json:"type"`
	Change *obs.SceneChange `json:"change,omitempty"`
	Status *obs.Status      `json:"status,omitempty"`
}

// Hub fans scene changes out to connected dashboard websockets. It is an
// obs.Observer and never blocks the switch that notifies it: a client whose
// buffer is full is dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// SceneChanged implements obs.Observer.
func (h *Hub) SceneChanged(change obs.SceneChange) {
	h.broadcast(Event{Type: "scene_changed", Change: &change})
}

func (h *Hub) broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
			log.Warn().Msg("Dropping slow event client")
			delete(h.clients, ch)
			close(ch)
		}
	}
}

func (h *Hub) add() chan []byte {
	ch := make(chan []byte, eventBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) remove(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// ServeWS upgrades the request and streams events until the client goes
// away. The first message is the current status.
func (h *Hub) ServeWS(status func() obs.Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Websocket upgrade failed")
			return
		}
		defer conn.Close()

		st := status()
		first, err := json.Marshal(Event{Type: "status", Status: &st})
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, first); err != nil {
			return
		}

		ch := h.add()
		defer h.remove(ch)
		log.Debug().Str("remote", c.ClientIP()).Msg("Event client connected")

		// The reader only notices the close; clients never send anything useful.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()
		for {
			select {
			case payload, ok := <-ch:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
						time.Now().Add(writeTimeout))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			case <-gone:
				log.Debug().Str("remote", c.ClientIP()).Msg("Event client disconnected")
				return
			}
		}
	}
}
