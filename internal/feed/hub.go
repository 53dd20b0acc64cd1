package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"codearena/pkg/utils/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// HubConfig tunes observer connections.
type HubConfig struct {
	// SendBuffer is the per-observer queue. Observers that fall this far
	// behind are disconnected.
	SendBuffer int
	// AllowedOrigins restricts the Origin header; empty allows any origin.
	AllowedOrigins []string
}

// Hub keeps WebSocket observers per competition and broadcasts events to them.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*observer]struct{}
	upgrader websocket.Upgrader
	buffer   int
	closed   bool
}

type observer struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (o *observer) stop() {
	o.once.Do(func() { close(o.send) })
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Hub{
		rooms:  make(map[string]map[*observer]struct{}),
		buffer: cfg.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Publish broadcasts ev to the observers of its competition. It satisfies
// Publisher so the hub can be fed directly on single-node deployments.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.Broadcast(ctx, ev.CompetitionID, payload)
	return nil
}

// Broadcast queues payload for every observer of competitionID. Observers
// with a full queue are dropped.
func (h *Hub) Broadcast(ctx context.Context, competitionID string, payload []byte) {
	var slow []*observer
	h.mu.RLock()
	for o := range h.rooms[competitionID] {
		select {
		case o.send <- payload:
		default:
			slow = append(slow, o)
		}
	}
	h.mu.RUnlock()
	for _, o := range slow {
		logger.Warn(ctx, "dropping slow feed observer", zap.String("competition_id", competitionID))
		h.leave(competitionID, o)
	}
}

// Observers returns the number of observers of competitionID.
func (h *Hub) Observers(competitionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[competitionID])
}

// Handler upgrades GET /competitions/:id/feed to a WebSocket stream.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		competitionID := c.Param("id")
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn(c.Request.Context(), "feed upgrade failed", zap.Error(err))
			return
		}
		o := &observer{conn: conn, send: make(chan []byte, h.buffer)}
		if !h.join(competitionID, o) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
		logger.Debug(c.Request.Context(), "feed observer joined", zap.String("competition_id", competitionID))
		go h.writeLoop(o)
		h.readLoop(competitionID, o)
	}
}

// Close disconnects every observer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, room := range h.rooms {
		for o := range room {
			o.stop()
		}
		delete(h.rooms, id)
	}
}

func (h *Hub) join(competitionID string, o *observer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	room, ok := h.rooms[competitionID]
	if !ok {
		room = make(map[*observer]struct{})
		h.rooms[competitionID] = room
	}
	room[o] = struct{}{}
	return true
}

func (h *Hub) leave(competitionID string, o *observer) {
	h.mu.Lock()
	if room, ok := h.rooms[competitionID]; ok {
		delete(room, o)
		if len(room) == 0 {
			delete(h.rooms, competitionID)
		}
	}
	h.mu.Unlock()
	o.stop()
}

// readLoop discards client frames and returns once the peer goes away.
func (h *Hub) readLoop(competitionID string, o *observer) {
	defer h.leave(competitionID, o)
	o.conn.SetReadLimit(512)
	_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(o *observer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = o.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = o.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := o.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ Publisher = (*Hub)(nil)
