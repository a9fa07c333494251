package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"model-orchestrator/core/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Handler streams job lifecycle events to websocket clients. Each
// connection gets its own publisher subscription; a client that stops
// reading is disconnected instead of stalling the stream.
type Handler struct {
	publisher *events.Publisher
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewHandler creates the websocket event handler.
func NewHandler(publisher *events.Publisher, logger *zap.Logger) *Handler {
	return &Handler{
		publisher: publisher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.Named("ws"),
	}
}

// ServeHTTP handles GET /ws/events. An optional job_id query parameter
// narrows the stream to one job.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	jobID := r.URL.Query().Get("job_id")
	sub, cancel := h.publisher.Subscribe()

	done := make(chan struct{})
	go h.readLoop(conn, done)
	go h.writeLoop(conn, sub, cancel, jobID, done)
}

// readLoop drains client frames so pongs and close messages are
// processed.
func (h *Handler) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sub <-chan events.Event, cancel func(), jobID string, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if jobID != "" && ev.JobID != jobID {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed, dropping client", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
