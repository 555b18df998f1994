package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/container"
	"github.com/GriffinCanCode/GameLab/backend/internal/domain/embed"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/GameLab/backend/internal/repo"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers contains the host's HTTP handlers.
type Handlers struct {
	repos     embed.Loader
	embeds    *embed.Manager
	metrics   *monitoring.Metrics
	logger    *logging.Logger
	publicURL string
	started   time.Time
}

// NewHandlers creates a new handler set. publicURL is where browsers reach
// this server and is used to build websocket URLs.
func NewHandlers(repos embed.Loader, embeds *embed.Manager, metrics *monitoring.Metrics, logger *logging.Logger, publicURL string) *Handlers {
	return &Handlers{
		repos:     repos,
		embeds:    embeds,
		metrics:   metrics,
		logger:    logging.OrNop(logger).Named("api"),
		publicURL: strings.TrimRight(publicURL, "/"),
		started:   time.Now(),
	}
}

// Register mounts the handlers.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	r.GET("/api/fetch-repo", h.FetchRepo)
	r.GET(config.BridgeScriptPath, h.BridgeScript)

	embeds := r.Group("/embeds")
	embeds.POST("", h.CreateEmbed)
	embeds.GET("", h.ListEmbeds)
	embeds.GET("/:id", h.GetEmbed)
	embeds.GET("/:id/files", h.GetEmbedFiles)
	embeds.DELETE("/:id", h.DeleteEmbed)
}

// Root handles the landing request.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "GameLab sandbox host",
	})
}

// Health reports liveness and a few counters.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"embeds":         h.embeds.Count(),
		"metrics":        h.metrics.Snapshot(),
	})
}

// FetchRepo returns the rewritten files of a GitHub repository.
func (h *Handlers) FetchRepo(c *gin.Context) {
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "GitHub URL is required."})
		return
	}

	ref, files, err := h.repos.Load(c.Request.Context(), rawURL)
	if err != nil {
		h.repoError(c, rawURL, err)
		return
	}

	h.logger.Info("Repository fetched", zap.String("repo", ref.String()), zap.Int("files", len(files)))
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handlers) repoError(c *gin.Context, rawURL string, err error) {
	switch {
	case errors.Is(err, repo.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid GitHub repository URL format."})
	case errors.Is(err, repo.ErrRepoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Repository not found. Please check the URL."})
	case errors.Is(err, repo.ErrNoIndexHTML):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not find index.html in the repository."})
	default:
		h.logger.Error("Repository fetch failed", zap.String("url", rawURL), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to fetch repository from GitHub.",
			"details": err.Error(),
		})
	}
}

// CreateEmbedRequest is the body of POST /embeds.
type CreateEmbedRequest struct {
	URL string `json:"url" binding:"required"`
}

// EmbedResponse adds the websocket endpoints to an embed's public view.
type EmbedResponse struct {
	embed.Info
	BridgeURL string `json:"bridgeUrl"`
	EventsURL string `json:"eventsUrl"`
}

// CreateEmbed loads a repository and starts it.
func (h *Handlers) CreateEmbed(c *gin.Context) {
	var req CreateEmbedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "GitHub URL is required."})
		return
	}

	s, err := h.embeds.Create(c.Request.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		if errors.Is(err, container.ErrNoSurface) {
			h.logger.Warn("Container did not start", zap.String("url", req.URL), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "Container did not start.", "details": err.Error()})
			return
		}
		h.repoError(c, req.URL, err)
		return
	}

	c.JSON(http.StatusCreated, h.response(s.Info()))
}

// ListEmbeds lists running embeds.
func (h *Handlers) ListEmbeds(c *gin.Context) {
	infos := h.embeds.List()
	out := make([]EmbedResponse, 0, len(infos))
	for _, info := range infos {
		info.Logs = nil
		out = append(out, h.response(info))
	}
	c.JSON(http.StatusOK, gin.H{"embeds": out, "count": len(out)})
}

// GetEmbed returns one embed.
func (h *Handlers) GetEmbed(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.response(s.Info()))
}

// GetEmbedFiles returns the rewritten files an embed was started with.
func (h *Handlers) GetEmbedFiles(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": s.Files})
}

// DeleteEmbed stops an embed.
func (h *Handlers) DeleteEmbed(c *gin.Context) {
	embedID := c.Param("id")
	if err := h.embeds.Close(embedID); err != nil {
		if errors.Is(err, embed.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Embed not found"})
			return
		}
		h.logger.Warn("Embed close failed", zap.String("embed_id", embedID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) lookup(c *gin.Context) (*embed.Session, bool) {
	s, err := h.embeds.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Embed not found"})
		return nil, false
	}
	return s, true
}

func (h *Handlers) response(info embed.Info) EmbedResponse {
	return EmbedResponse{
		Info:      info,
		BridgeURL: h.socketURL("/embed/bridge/" + info.ID),
		EventsURL: h.socketURL("/embeds/" + info.ID + "/events"),
	}
}

func (h *Handlers) socketURL(path string) string {
	u, err := url.Parse(h.publicURL + path)
	if err != nil {
		return path
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String()
}
