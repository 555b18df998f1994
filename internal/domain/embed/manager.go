package embed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/origin"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/relay"
	"github.com/GriffinCanCode/GameLab/backend/internal/container"
	"github.com/GriffinCanCode/GameLab/backend/internal/domain/telemetry"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/GameLab/backend/internal/repo"
	"github.com/GriffinCanCode/GameLab/backend/internal/shared/id"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("embed not found")

// Loader fetches and rewrites a repository.
type Loader interface {
	Load(ctx context.Context, rawURL string) (repo.Ref, repo.Files, error)
}

// Config configures a Manager.
type Config struct {
	BackendURL     string
	TrustedOrigins []string
	Prefixes       protocol.Prefixes
	RefreshDelay   time.Duration
	PollInterval   time.Duration
	DevCommand     string
	// Client is the template for backend clients; the relay gets no retries
	// so a call is never performed twice.
	Client httpclient.Options
}

// Manager owns the embed sessions.
type Manager struct {
	cfg     Config
	base    *origin.Guard
	loader  Loader
	runner  container.Runner
	relayed *httpclient.Client
	polling *httpclient.Client
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager. The trusted origins are validated once and
// cloned into every session.
func NewManager(cfg Config, loader Loader, runner container.Runner, logger *logging.Logger, metrics *monitoring.Metrics) (*Manager, error) {
	if loader == nil || runner == nil {
		return nil, errors.New("embed manager needs a loader and a runner")
	}
	base, err := origin.NewGuard(cfg.TrustedOrigins...)
	if err != nil {
		return nil, fmt.Errorf("trusted origins: %w", err)
	}
	if cfg.Prefixes == (protocol.Prefixes{}) {
		cfg.Prefixes = protocol.DefaultPrefixes()
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	relayOpts := cfg.Client
	relayOpts.Name = "relay"
	relayOpts.Retries = 0
	pollOpts := cfg.Client
	pollOpts.Name = "poller"
	if pollOpts.Retries == 0 {
		pollOpts.Retries = 1
	}

	return &Manager{
		cfg:      cfg,
		base:     base,
		loader:   loader,
		runner:   runner,
		relayed:  httpclient.New(relayOpts),
		polling:  httpclient.New(pollOpts),
		logger:   logging.OrNop(logger).Named("embed"),
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}, nil
}

// Create loads repoURL, starts it and wires a fresh bridge for it.
func (m *Manager) Create(ctx context.Context, repoURL string) (s *Session, err error) {
	defer func() { m.metrics.RecordEmbedCreated(err) }()

	ref, files, err := m.loader.Load(ctx, repoURL)
	if err != nil {
		return nil, err
	}

	embedID := id.NewEmbedID().String()
	log := m.logger.With(zap.String("embed_id", embedID), zap.String("repo", ref.String()))

	instance, err := m.runner.Start(ctx, container.Spec{
		ID:      embedID,
		Files:   files,
		Command: m.cfg.DevCommand,
		Env:     map[string]string{"VITE_GAME_ID": ref.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	s, err = m.assemble(embedID, ref, files, instance, log)
	if err != nil {
		_ = instance.Close()
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.Close()
		return nil, errors.New("embed manager is shut down")
	}
	m.sessions[embedID] = s
	count := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetEmbedsActive(count)

	go m.watch(s)
	log.Info("Embed created",
		zap.String("preview_url", s.Surface().URL),
		zap.String("origin", s.Surface().Origin),
		zap.Int("files", len(files)))
	return s, nil
}

func (m *Manager) assemble(embedID string, ref repo.Ref, files repo.Files, instance container.Instance, log *logging.Logger) (*Session, error) {
	guard := m.base.Clone()
	if err := guard.Allow(instance.Surface().Origin); err != nil {
		return nil, fmt.Errorf("trust container origin: %w", err)
	}

	hub := telemetry.NewHub(log)
	poller := telemetry.NewPoller(telemetry.PollerConfig{
		Endpoint: m.cfg.BackendURL + m.cfg.Prefixes.Endpoint("get-data"),
		Interval: m.cfg.PollInterval,
	}, m.polling, hub, log, m.metrics)

	rl, err := relay.New(relay.Config{
		BackendURL:   m.cfg.BackendURL,
		Slug:         ref.Slug(),
		Prefixes:     m.cfg.Prefixes,
		RefreshDelay: m.cfg.RefreshDelay,
	}, guard, m.relayed,
		relay.WithAnnouncer(relay.NewAnnouncer(hub, poller.Track, log, m.metrics)),
		relay.WithRefresh(poller.Refresh),
		relay.WithLogger(log),
		relay.WithMetrics(m.metrics),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        embedID,
		Ref:       ref,
		Files:     files,
		CreatedAt: time.Now().UTC(),
		guard:     guard,
		relay:     rl,
		hub:       hub,
		poller:    poller,
		instance:  instance,
		ctx:       ctx,
		cancel:    cancel,
	}
	go poller.Run(ctx)
	return s, nil
}

// watch drops the session when its container stops on its own.
func (m *Manager) watch(s *Session) {
	select {
	case <-s.instance.Done():
		if s.ctx.Err() != nil {
			return
		}
		m.logger.Warn("Container stopped", zap.String("embed_id", s.ID))
		_ = m.Close(s.ID)
	case <-s.Done():
	}
}

// Get returns the session with the given id.
func (m *Manager) Get(embedID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[embedID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, embedID)
	}
	return s, nil
}

// BySurface returns the session whose container serves surfaceOrigin.
func (m *Manager) BySurface(surfaceOrigin string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if origin.Same(s.Surface().Origin, surfaceOrigin) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: surface %s", ErrNotFound, surfaceOrigin)
}

// List returns every session, newest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Trusts reports whether any live session trusts origin as a sender.
func (m *Manager) Trusts(senderOrigin string) bool {
	if m.base.IsTrustedSender(senderOrigin) {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.guard.IsTrustedSender(senderOrigin) {
			return true
		}
	}
	return false
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close tears a session down.
func (m *Manager) Close(embedID string) error {
	m.mu.Lock()
	s, ok := m.sessions[embedID]
	delete(m.sessions, embedID)
	count := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, embedID)
	}

	m.metrics.SetEmbedsActive(count)
	err := s.Close()
	m.logger.Info("Embed closed", zap.String("embed_id", embedID))
	return err
}

// Shutdown closes every session and refuses new ones.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	m.metrics.SetEmbedsActive(0)

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}
