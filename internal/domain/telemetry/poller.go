package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/monitoring"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrUnexpectedResponse is returned for get-data replies without a
// gameData array.
var ErrUnexpectedResponse = errors.New("unexpected get-data response")

// DataFrame carries the recorded rounds of the active session to the UI.
type DataFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	GameData  json.RawMessage `json:"gameData"`
}

// Publisher receives frames for the UI.
type Publisher interface {
	Broadcast(frame any)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Endpoint is the absolute get-data URL.
	Endpoint string
	Interval time.Duration
}

// Poller fetches the active session's records on an interval and on demand,
// publishing them when they change.
type Poller struct {
	cfg     PollerConfig
	client  *httpclient.Client
	out     Publisher
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	session string
	last    []byte

	refresh chan struct{}
}

// NewPoller creates a poller. It does nothing until Track names a session.
func NewPoller(cfg PollerConfig, client *httpclient.Client, out Publisher, logger *logging.Logger, metrics *monitoring.Metrics) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		out:     out,
		logger:  logging.OrNop(logger).Named("poller"),
		metrics: metrics,
		refresh: make(chan struct{}, 1),
	}
}

// Track switches polling to sessionID and polls right away.
func (p *Poller) Track(sessionID string) {
	p.mu.Lock()
	changed := p.session != sessionID
	p.session = sessionID
	if changed {
		p.last = nil
	}
	p.mu.Unlock()

	if changed {
		p.logger.Info("Tracking session", zap.String("session_id", sessionID))
	}
	p.Refresh()
}

// Session returns the tracked session id.
func (p *Poller) Session() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Refresh requests an out-of-band poll. Requests coalesce.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.refresh:
		}
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Debug("Poll failed", zap.Error(err))
		}
	}
}

// Poll fetches once. It reports whether a frame was published.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	sessionID := p.Session()
	if sessionID == "" {
		return false, nil
	}

	data, err := p.fetch(ctx, sessionID)
	p.metrics.RecordPoll(err)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	if p.session != sessionID || bytes.Equal(p.last, data) {
		p.mu.Unlock()
		return false, nil
	}
	p.last = data
	p.mu.Unlock()

	p.out.Broadcast(&DataFrame{
		Type:      protocol.TypeSandboxData,
		SessionID: sessionID,
		GameData:  json.RawMessage(data),
	})
	return true, nil
}

func (p *Poller) fetch(ctx context.Context, sessionID string) ([]byte, error) {
	rq, err := p.client.Request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Execute(func() (*resty.Response, error) {
		return rq.SetQueryParam("sessionId", sessionID).Get(p.cfg.Endpoint)
	})
	if err != nil {
		return nil, fmt.Errorf("get-data: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("get-data: status %d", resp.StatusCode())
	}

	gameData := gjson.GetBytes(resp.Body(), "gameData")
	if !gameData.IsArray() {
		return nil, ErrUnexpectedResponse
	}
	return []byte(gameData.Raw), nil
}
