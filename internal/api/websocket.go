package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rawblock/sol-sniffer/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local dashboard
	},
}

// Hub maintains the set of active websocket clients and broadcasts
// serialized PipelineEvents to every subscriber.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := client.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				log.Printf("Websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections on GET /ws.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()

	log.Printf("New WebSocket client connected. Total clients: %d", len(h.clients))

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("WebSocket client disconnected. Total clients: %d", len(h.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}
	}()
}

// Broadcast enqueues data for delivery to all connected clients. Send is
// non-blocking: a full broadcast buffer means dashboard subscribers are
// falling behind, so the event is dropped here rather than stalling
// whichever caller (e.g. the event collector, on the hot path) produced it.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		log.Printf("Websocket broadcast buffer full, dropping event")
	}
}

// wireEvent is the JSON shape a PipelineEvent is broadcast as; Kind is
// rendered as its string name rather than the bare uint8 discriminator so
// dashboard clients don't need to hardcode the enum ordering.
type wireEvent struct {
	Kind      string `json:"kind"`
	TraceID   uint64 `json:"trace_id"`
	Timestamp int64  `json:"timestamp_unix_nano"`
}

// BroadcastEvent serializes e and enqueues it for delivery to every
// subscriber. Installed as the event collector's sink so every stage
// transition the pipeline records is also streamed live over /ws.
func (h *Hub) BroadcastEvent(e events.PipelineEvent) {
	data, err := json.Marshal(wireEvent{
		Kind:      e.Kind.String(),
		TraceID:   e.TraceID,
		Timestamp: e.Timestamp.UnixNano(),
	})
	if err != nil {
		return
	}
	h.Broadcast(data)
}
