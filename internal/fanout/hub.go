// Package fanout implements the Fan-out Hub (component C5): it accepts
// authenticated WebSocket subscribers and forwards each new Stream Broker
// entry to them exactly once, tail-start, with periodic keep-alives.
package fanout

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/missioncontrol/core/internal/common/apperr"
	"github.com/missioncontrol/core/internal/common/logger"
	"github.com/missioncontrol/core/internal/stream"
)

const (
	readCycle  = 25 * time.Second
	readCount  = 50
	pingPeriod = 25 * time.Second
)

var pingFrame = []byte(`{"type":"ping"}`)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub serves subscriber connections over the Stream Broker. There is no
// shared subscriber registry: each subscriber is an independent task whose
// only state is its own read cursor, per section 4.3.
type Hub struct {
	broker    stream.Broker
	streamKey string
	authToken string
	log       *logger.Logger
}

func New(broker stream.Broker, streamKey, authToken string, log *logger.Logger) *Hub {
	return &Hub{broker: broker, streamKey: streamKey, authToken: authToken, log: log.WithFields(zap.String("component", "fanout"))}
}

// HandleSubscribe upgrades the request to a WebSocket and runs the
// subscriber loop until the peer disconnects. Auth is checked against the
// handshake request's Authorization header (available on c.Request before
// upgrade, same as BearerAuth's HTTP-side check); failures close with the
// WebSocket codes from section 4.3 rather than an HTTP error.
func (h *Hub) HandleSubscribe(c *gin.Context) {
	if appErr := h.authorize(c); appErr != nil {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		closeWithCode(conn, appErr.CloseCode(), appErr.Message)
		conn.Close()
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.serve(c.Request.Context(), conn)
}

func (h *Hub) authorize(c *gin.Context) *apperr.AppError {
	if h.authToken == "" {
		return nil
	}
	header := c.Request.Header.Get("Authorization")
	if header == "" {
		return apperr.Unauthorized("missing bearer token")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || strings.TrimPrefix(header, prefix) != h.authToken {
		return apperr.Forbidden("invalid bearer token")
	}
	return nil
}

func closeWithCode(conn *gorillaws.Conn, code int, reason string) {
	msg := gorillaws.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(gorillaws.CloseMessage, msg, time.Now().Add(time.Second))
}

// serve runs the accept-time tail-start read loop for a single subscriber.
func (h *Hub) serve(ctx context.Context, conn *gorillaws.Conn) {
	lastID, err := h.broker.LatestID(ctx, h.streamKey)
	if err != nil {
		h.log.WithError(err).Error("latest_id lookup failed")
		return
	}

	disconnected := make(chan struct{})
	go h.watchForClose(conn, disconnected)

	for {
		select {
		case <-ctx.Done():
			return
		case <-disconnected:
			return
		default:
		}

		entries, err := h.broker.Read(ctx, h.streamKey, lastID, readCycle, readCount)
		if err != nil {
			h.log.WithError(err).Warn("stream read failed")
			return
		}

		if len(entries) == 0 {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(gorillaws.TextMessage, pingFrame); err != nil {
				return
			}
			continue
		}

		for _, entry := range entries {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(gorillaws.TextMessage, entry.EventJSON); err != nil {
				return
			}
			lastID = entry.ID
		}
	}
}

// watchForClose drains and discards client frames (subscribers are
// receive-only) purely to detect peer disconnects promptly.
func (h *Hub) watchForClose(conn *gorillaws.Conn, disconnected chan<- struct{}) {
	defer close(disconnected)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
