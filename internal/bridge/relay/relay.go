package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/channel"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/origin"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/GameLab/backend/internal/shared/id"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

var (
	ErrOutsideBackend = errors.New("target is not on the backend origin")
	ErrOutsideSandbox = errors.New("target is outside the internal API")
)

// Headers that describe the sandbox's own connection rather than the call.
var droppedHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"connection":        true,
	"accept-encoding":   true,
	"transfer-encoding": true,
	"origin":            true,
	"referer":           true,
}

// Config holds the per-embed relay settings.
type Config struct {
	// BackendURL is the origin relayed calls are sent to.
	BackendURL string
	// Slug names test runs: "<slug>-test-<suffix>".
	Slug         string
	Prefixes     protocol.Prefixes
	RefreshDelay time.Duration
}

// Relay is the host half of the fetch proxy. It performs calls posted by a
// trusted sandbox against the backend and posts the result back to the
// sender.
type Relay struct {
	cfg       Config
	backend   *url.URL
	guard     *origin.Guard
	client    *httpclient.Client
	announcer *Announcer
	refresh   *debouncer
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	suffix    func() string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Relay.
type Option func(*Relay)

// WithAnnouncer hooks session announcements onto successful session
// creation.
func WithAnnouncer(a *Announcer) Option {
	return func(r *Relay) { r.announcer = a }
}

// WithRefresh schedules fn, debounced by Config.RefreshDelay, after every
// successful session creation or data submission.
func WithRefresh(fn func()) Option {
	return func(r *Relay) {
		if fn != nil {
			r.refresh = newDebouncer(r.cfg.RefreshDelay, fn)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// New creates a relay. guard decides which senders are served; client
// performs the backend calls.
func New(cfg Config, guard *origin.Guard, client *httpclient.Client, opts ...Option) (*Relay, error) {
	backend, err := url.Parse(cfg.BackendURL)
	if err != nil || backend.Scheme == "" || backend.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", cfg.BackendURL)
	}
	if guard == nil || client == nil {
		return nil, errors.New("relay needs a guard and a client")
	}
	if cfg.Prefixes == (protocol.Prefixes{}) {
		cfg.Prefixes = protocol.DefaultPrefixes()
	}
	if cfg.RefreshDelay == 0 {
		cfg.RefreshDelay = 300 * time.Millisecond
	}

	r := &Relay{
		cfg:     cfg,
		backend: &url.URL{Scheme: backend.Scheme, Host: backend.Host},
		guard:   guard,
		client:  client,
		suffix:  func() string { return id.Suffix(6) },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger).Named("relay")
	return r, nil
}

// Serve returns a channel handler that processes each frame on its own
// goroutine, so slow backend calls never hold up the read loop. Frames
// arriving after Close are dropped.
func (r *Relay) Serve(ctx context.Context) channel.Handler {
	return func(msg channel.Message) {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			r.metrics.RecordFrame(monitoring.OutcomeIgnored)
			r.logger.Debug("Dropped frame after close")
			return
		}
		r.wg.Add(1)
		r.mu.Unlock()

		go func() {
			defer r.wg.Done()
			r.Handle(ctx, msg)
		}()
	}
}

// Wait blocks until frames handed to Serve are done.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// Close stops accepting frames, waits for in-flight ones and cancels a
// pending refresh.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
	if r.refresh != nil {
		r.refresh.Stop()
	}
}

// TestRunID returns a fresh human-readable test-run id.
func (r *Relay) TestRunID() string {
	slug := r.cfg.Slug
	if slug == "" {
		slug = "game"
	}
	return slug + "-test-" + r.suffix()
}

// Handle processes one inbound frame. Frames from untrusted senders are
// dropped before anything else happens.
func (r *Relay) Handle(ctx context.Context, msg channel.Message) {
	if !r.guard.IsTrustedSender(msg.Origin) {
		r.metrics.RecordFrame(monitoring.OutcomeUntrusted)
		r.logger.Debug("Dropped frame from untrusted sender", zap.String("origin", msg.Origin))
		return
	}

	typ, err := protocol.Peek(msg.Data)
	if err != nil || typ != protocol.TypeFetch {
		r.metrics.RecordFrame(monitoring.OutcomeIgnored)
		return
	}

	req, err := protocol.DecodeRequest(msg.Data)
	if err != nil {
		r.metrics.RecordFrame(monitoring.OutcomeMalformed)
		r.logger.Warn("Malformed relay frame", zap.Error(err))
		// A frame with an id still gets an answer so its caller is not left waiting.
		if callID := gjson.GetBytes(msg.Data, "id").String(); callID != "" {
			r.reply(msg.Source, protocol.NewFailure(callID, err.Error()))
		}
		return
	}

	target, err := r.resolve(req.Input.URL)
	if err != nil {
		r.metrics.RecordFrame(monitoring.OutcomeRejected)
		r.logger.Warn("Rejected relay target",
			zap.String("id", req.ID),
			zap.String("url", req.Input.URL),
			zap.Error(err))
		r.reply(msg.Source, protocol.NewFailure(req.ID, err.Error()))
		return
	}

	method := req.Method()
	headers := forwardHeaders(req.Headers())
	body, hasBody := req.Body()

	sessionCreate := method == http.MethodPost && target.Path == r.cfg.Prefixes.Endpoint("game-session")
	dataSubmit := method == http.MethodPost && target.Path == r.cfg.Prefixes.Endpoint("game-data")

	if sessionCreate {
		body, hasBody = r.nameSession(body, hasBody, headers)
	}

	start := time.Now()
	resp, err := r.call(ctx, method, target.String(), headers, body, hasBody)
	if err != nil {
		r.metrics.RecordFrame(monitoring.OutcomeFailed)
		r.logger.Warn("Backend call failed",
			zap.String("id", req.ID),
			zap.String("method", method),
			zap.String("target", target.String()),
			zap.Error(err))
		r.reply(msg.Source, protocol.NewFailure(req.ID, err.Error()))
		return
	}

	status := resp.StatusCode()
	r.metrics.RecordFrame(monitoring.OutcomeRelayed)
	r.metrics.RecordRelay(status, time.Since(start))
	r.logger.Debug("Relayed call",
		zap.String("id", req.ID),
		zap.String("method", method),
		zap.String("target", target.String()),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)))

	r.reply(msg.Source, protocol.NewResult(req.ID, status, snapshotHeaders(resp.Header()), string(resp.Body())))

	if !resp.IsSuccess() {
		return
	}
	if sessionCreate && r.announcer != nil {
		r.announcer.Announce(resp.Body())
	}
	if (sessionCreate || dataSubmit) && r.refresh != nil {
		r.refresh.Trigger()
		r.metrics.IncRefreshes()
	}
}

func (r *Relay) call(ctx context.Context, method, target string, headers map[string]string, body string, hasBody bool) (*resty.Response, error) {
	rq, err := r.client.Request(ctx)
	if err != nil {
		return nil, err
	}
	rq.SetHeaders(headers)
	if hasBody {
		rq.SetBody(body)
	}
	return r.client.Execute(func() (*resty.Response, error) {
		return rq.Execute(method, target)
	})
}

func (r *Relay) reply(to channel.Endpoint, frame *protocol.FetchResult) {
	if to == nil {
		r.logger.Warn("Relay frame has no sender to answer", zap.String("id", frame.ID))
		return
	}
	if err := to.Post(frame); err != nil {
		r.logger.Warn("Posting result frame failed", zap.String("id", frame.ID), zap.Error(err))
	}
}

// resolve maps a frame url onto the backend's sandbox namespace.
func (r *Relay) resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	if ref.Host != "" && !origin.Same(ref.Scheme+"://"+ref.Host, r.backend.String()) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideBackend, ref.Host)
	}

	resolved := r.backend.ResolveReference(ref)
	escaped := resolved.EscapedPath()
	if !r.cfg.Prefixes.Internal(escaped) && !r.cfg.Prefixes.InSandbox(escaped) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideSandbox, escaped)
	}

	// Rewrite the escaped form so encoded delimiters stay part of the path.
	rawPath := r.cfg.Prefixes.SandboxPath(escaped, "")
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	return &url.URL{
		Scheme:   r.backend.Scheme,
		Host:     r.backend.Host,
		Path:     path,
		RawPath:  rawPath,
		RawQuery: resolved.RawQuery,
	}, nil
}

// nameSession injects a test-run gameId into a session-creation body that
// lacks one. Bodies that are not JSON objects are forwarded untouched.
func (r *Relay) nameSession(body string, hasBody bool, headers map[string]string) (string, bool) {
	if !hasBody || strings.TrimSpace(body) == "" {
		body = "{}"
	}
	parsed := gjson.Parse(body)
	if !gjson.Valid(body) || !parsed.IsObject() {
		return body, true
	}
	if existing := parsed.Get("gameId"); existing.Exists() && existing.String() != "" {
		return body, true
	}

	named, err := sjson.Set(body, "gameId", r.TestRunID())
	if err != nil {
		r.logger.Debug("Could not name test session", zap.Error(err))
		return body, true
	}
	if !hasHeader(headers, "content-type") {
		headers["Content-Type"] = "application/json"
	}
	return named, true
}

func forwardHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if droppedHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// snapshotHeaders flattens response headers into lower-cased names with
// repeated values joined.
func snapshotHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

func hasHeader(h map[string]string, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
