package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/GameLab/backend/internal/api/http"
	"github.com/GriffinCanCode/GameLab/backend/internal/api/middleware"
	"github.com/GriffinCanCode/GameLab/backend/internal/api/ws"
	"github.com/GriffinCanCode/GameLab/backend/internal/container"
	"github.com/GriffinCanCode/GameLab/backend/internal/domain/embed"
	"github.com/GriffinCanCode/GameLab/backend/internal/domain/sandboxapi"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/GameLab/backend/internal/repo"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	store   *sandboxapi.Store
	embeds  *embed.Manager
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger = logging.OrNop(logger)

	logger.Info("Initializing GameLab host",
		zap.String("port", cfg.Server.Port),
		zap.String("backend", cfg.Backend.URL),
		zap.String("repo_provider", cfg.GitHub.Provider),
		zap.String("container", cfg.Embed.Container),
	)

	metrics := monitoring.NewMetrics()

	store, err := sandboxapi.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox store: %w", err)
	}
	logger.Info("Sandbox store ready", zap.String("path", cfg.Database.Path))

	repos, err := NewRepoService(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	embeds, err := embed.NewManager(embed.Config{
		BackendURL:     cfg.Backend.URL,
		TrustedOrigins: cfg.Bridge.TrustedOrigins,
		RefreshDelay:   cfg.Bridge.RefreshDelay,
		PollInterval:   cfg.Bridge.PollInterval,
		DevCommand:     cfg.Embed.DevCommand,
		Client: httpclient.Options{
			Timeout: cfg.Backend.Timeout,
			RPS:     cfg.Backend.RPS,
		},
	}, repos, NewRunner(cfg, logger), logger, metrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.Server.CORSOrigins
	corsCfg.Trusted = embeds.Trusts
	allowUI := func(origin string) bool {
		for _, o := range cfg.Server.CORSOrigins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			Skip:              middleware.IsWebSocket,
		}))
	}

	sandboxapi.NewHandlers(store, logger).Register(router)
	apihttp.NewHandlers(repos, embeds, metrics, logger, cfg.Embed.PublicURL).Register(router)
	ws.NewHandler(embeds, allowUI, metrics, logger).Register(router)

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		store:   store,
		embeds:  embeds,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// NewRepoService builds the repository loader named by the configuration.
func NewRepoService(cfg *config.Config, logger *logging.Logger) (*repo.Service, error) {
	provider, err := repo.NewProvider(repo.ProviderConfig{
		Kind:   cfg.GitHub.Provider,
		Token:  cfg.GitHub.Token,
		APIURL: cfg.GitHub.APIURL,
		Dir:    cfg.GitHub.Dir,
	}, logger)
	if err != nil {
		return nil, err
	}
	return repo.NewService(provider, repo.NewRewriter(cfg.Embed.BridgeScriptURL(), logger)), nil
}

// NewRunner builds the execution container named by the configuration.
func NewRunner(cfg *config.Config, logger *logging.Logger) container.Runner {
	if cfg.Embed.Container == "process" {
		return container.NewProcess(container.ProcessConfig{StartTimeout: cfg.Embed.StartTimeout}, logger)
	}
	return container.NewPreview(cfg.Embed.PreviewDomain)
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Addr(),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Graceful shutdown incomplete", zap.Error(err))
	}
	return nil
}

// Close stops every embed and closes the store.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.embeds.Shutdown(); err != nil {
		s.logger.Error("Failed to stop embeds", zap.Error(err))
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close sandbox store", zap.Error(err))
		errs = append(errs, fmt.Errorf("failed to close sandbox store: %w", err))
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}
