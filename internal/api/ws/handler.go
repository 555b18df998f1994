package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/channel"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
	"github.com/GriffinCanCode/GameLab/backend/internal/domain/embed"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler serves the embed websockets.
type Handler struct {
	embeds   *embed.Manager
	allowUI  func(origin string) bool
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket handler. allowUI decides which origins
// may subscribe to embed events.
func NewHandler(embeds *embed.Manager, allowUI func(origin string) bool, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	return &Handler{
		embeds:  embeds,
		allowUI: allowUI,
		metrics: metrics,
		logger:  logging.OrNop(logger).Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origins are checked per route before upgrading
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the websocket routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/embed/bridge", h.Bridge)
	r.GET("/embed/bridge/:id", h.Bridge)
	r.GET("/embeds/:id/events", h.Events)
}

// Bridge is the host end of an embed's message channel. Only the embed's
// trusted origins may connect; frames are handed to the embed's relay.
// Without an id the embed is the one whose container serves the Origin.
func (h *Handler) Bridge(c *gin.Context) {
	peer := c.GetHeader("Origin")
	var (
		s   *embed.Session
		err error
	)
	if embedID := c.Param("id"); embedID != "" {
		s, err = h.embeds.Get(embedID)
	} else {
		s, err = h.embeds.BySurface(peer)
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Embed not found"})
		return
	}
	if !s.Guard().IsTrustedSender(peer) {
		h.logger.Warn("Rejected bridge connection", zap.String("embed_id", s.ID), zap.String("origin", peer))
		c.JSON(http.StatusForbidden, gin.H{"error": "Origin not allowed"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	conn := channel.NewConn(ws, peer)
	defer conn.Close()
	defer h.metrics.WSConnected("bridge")()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	serve := s.Serve()
	log := h.logger.With(zap.String("embed_id", s.ID), zap.String("origin", peer))
	log.Info("Bridge connected")
	err = conn.Listen(ctx, func(msg channel.Message) {
		h.metrics.RecordWSMessage("in", "bridge")
		serve(msg)
	})
	if err != nil {
		log.Debug("Bridge read ended", zap.Error(err))
	}
	log.Info("Bridge disconnected")
}

// Events streams an embed's UI frames: session announcements and
// telemetry. A subscriber joining late first receives the active session.
func (h *Handler) Events(c *gin.Context) {
	s, err := h.embeds.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Embed not found"})
		return
	}
	peer := c.GetHeader("Origin")
	if peer != "" && h.allowUI != nil && !h.allowUI(peer) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Origin not allowed"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()
	defer h.metrics.WSConnected("events")()

	frames, unsubscribe := s.Hub().Subscribe(0)
	defer unsubscribe()

	closed := make(chan struct{})
	go h.drain(ws, closed)

	if sessionID := s.ActiveSession(); sessionID != "" {
		if !h.write(ws, protocol.NewSessionNotification(sessionID)) {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-frames:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "embed closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			h.metrics.RecordWSMessage("out", "events")
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// drain reads until the client goes away; the events feed is one-way.
func (h *Handler) drain(ws *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) write(ws *websocket.Conn, frame any) bool {
	data, err := protocol.Encode(frame)
	if err != nil {
		return false
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data) == nil
}
