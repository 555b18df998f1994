package sandboxapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/GameLab/backend/internal/shared/id"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultUserID = "test-user"

// SessionRequest is the body of a session creation.
type SessionRequest struct {
	GameID   string `json:"gameId"`
	GameName string `json:"gameName"`
	UserID   string `json:"userId"`
}

// DataRequest is the body of a round submission.
type DataRequest struct {
	SessionID   string          `json:"sessionId"`
	RoundNumber *float64        `json:"roundNumber"`
	RoundData   json.RawMessage `json:"roundData"`
	Timestamp   *time.Time      `json:"timestamp"`
}

// Handlers serves the data-collection API the relay forwards to.
type Handlers struct {
	store  *Store
	logger *logging.Logger
	now    func() time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(store *Store, logger *logging.Logger) *Handlers {
	return &Handlers{
		store:  store,
		logger: logging.OrNop(logger).Named("sandbox-api"),
		now:    time.Now,
	}
}

// Register mounts the routes on r. Calls to /api/game-session and
// /api/game-data land in the same store as their sandbox counterparts.
func (h *Handlers) Register(r gin.IRoutes) {
	r.POST("/api/sandbox/:name", h.Post)
	r.POST("/api/:name", h.Post)
	r.GET("/api/sandbox/get-data", h.GetData)
}

// Post dispatches the POST endpoints by name.
func (h *Handlers) Post(c *gin.Context) {
	switch c.Param("name") {
	case "game-session":
		h.CreateSession(c)
	case "game-data":
		h.AddData(c)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	}
}

// CreateSession starts a test session.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "Sandbox API operation failed", err)
		return
	}
	if req.GameID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gameId is required for game-session"})
		return
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}

	session := &GameSession{
		SessionID:     uuid.NewString(),
		UserID:        req.UserID,
		GameID:        req.GameID,
		GameName:      req.GameName,
		StartTime:     h.now().UTC(),
		IsTestSession: true,
	}
	if err := h.store.CreateSession(c.Request.Context(), session); err != nil {
		h.fail(c, "Sandbox API operation failed", err)
		return
	}

	h.logger.Info("Test session created",
		zap.String("session_id", session.SessionID),
		zap.String("game_id", session.GameID))
	c.JSON(http.StatusOK, session)
}

// AddData records one round for an existing session.
func (h *Handlers) AddData(c *gin.Context) {
	var req DataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "Sandbox API operation failed", err)
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required for game-data"})
		return
	}

	ctx := c.Request.Context()
	session, err := h.store.GetSession(ctx, req.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		h.fail(c, "Sandbox API operation failed", err)
		return
	}

	record := &GameData{
		DataID:      id.NewDataID().String(),
		SessionID:   session.SessionID,
		GameID:      session.GameID,
		UserID:      session.UserID,
		RoundNumber: req.RoundNumber,
		RoundData:   req.RoundData,
		Timestamp:   h.now().UTC(),
		IsTestData:  true,
	}
	if req.Timestamp != nil {
		record.Timestamp = req.Timestamp.UTC()
	}
	if err := h.store.AddData(ctx, record); err != nil {
		h.fail(c, "Sandbox API operation failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "dataId": record.DataID})
}

// GetData lists a session's records in timestamp order.
func (h *Handlers) GetData(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing sessionId"})
		return
	}

	data, err := h.store.ListData(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, "Sandbox GET operation failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "gameData": data})
}

func (h *Handlers) fail(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": message, "details": err.Error()})
}
