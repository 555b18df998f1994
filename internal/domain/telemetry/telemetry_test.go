package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/monitoring"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	a, cancelA := hub.Subscribe(4)
	b, cancelB := hub.Subscribe(4)
	defer cancelA()
	defer cancelB()

	hub.Broadcast(protocol.NewSessionNotification("s-1"))

	for _, ch := range []<-chan []byte{a, b} {
		select {
		case data := <-ch:
			assert.JSONEq(t, `{"type":"SANDBOX_SESSION_ID","payload":"s-1"}`, string(data))
		case <-time.After(time.Second):
			t.Fatal("subscriber got nothing")
		}
	}
	assert.Equal(t, 2, hub.Subscribers())
}

func TestHubSlowSubscriberDrops(t *testing.T) {
	hub := NewHub(nil)
	slow, cancel := hub.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		hub.Broadcast(protocol.NewSessionNotification("s"))
	}

	assert.Len(t, slow, 1)
	assert.Equal(t, int64(2), hub.Dropped())
}

func TestHubCancelAndClose(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe(1)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.Subscribers())

	other, _ := hub.Subscribe(1)
	hub.Close()
	_, open = <-other
	assert.False(t, open)

	late, _ := hub.Subscribe(1)
	_, open = <-late
	assert.False(t, open, "subscriptions after close are closed")

	hub.Broadcast(protocol.NewSessionNotification("s"))
}

type frames struct {
	mu  sync.Mutex
	got []*DataFrame
}

func (f *frames) Broadcast(frame any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, frame.(*DataFrame))
}

func (f *frames) all() []*DataFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*DataFrame(nil), f.got...)
}

func newDataBackend(t *testing.T, body *atomic.Value, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/api/sandbox/get-data" || r.URL.Query().Get("sessionId") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body.Load().(string))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPollerPublishesOnChange(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(`{"success":true,"gameData":[]}`)
	srv := newDataBackend(t, &body, &hits)

	out := &frames{}
	metrics := monitoring.NewMetrics()
	p := NewPoller(PollerConfig{Endpoint: srv.URL + "/api/sandbox/get-data"},
		httpclient.New(httpclient.Options{Name: "poll-test"}), out, nil, metrics)

	published, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, published, "no session tracked yet")
	assert.Zero(t, hits.Load())

	p.Track("s-1")
	published, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, published)

	published, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, published, "unchanged data is not republished")

	body.Store(`{"success":true,"gameData":[{"roundNumber":1}]}`)
	published, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, published)

	got := out.all()
	require.Len(t, got, 2)
	assert.Equal(t, protocol.TypeSandboxData, got[1].Type)
	assert.Equal(t, "s-1", got[1].SessionID)
	assert.Equal(t, int64(1), gjson.GetBytes(got[1].GameData, "0.roundNumber").Int())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Polls.WithLabelValues("ok")))
}

func TestPollerRejectsUnexpectedBody(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(`{"success":true}`)
	srv := newDataBackend(t, &body, &hits)

	p := NewPoller(PollerConfig{Endpoint: srv.URL + "/api/sandbox/get-data"},
		httpclient.New(httpclient.Options{Name: "poll-test"}), &frames{}, nil, nil)
	p.Track("s-1")

	_, err := p.Poll(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	p.cfg.Endpoint = srv.URL + "/elsewhere"
	_, err = p.Poll(context.Background())
	assert.ErrorContains(t, err, "status 400")
}

func TestPollerRunRefreshes(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(`{"success":true,"gameData":[]}`)
	srv := newDataBackend(t, &body, &hits)

	out := &frames{}
	p := NewPoller(PollerConfig{Endpoint: srv.URL + "/api/sandbox/get-data", Interval: time.Hour},
		httpclient.New(httpclient.Options{Name: "poll-test"}), out, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	p.Track("s-1")
	require.Eventually(t, func() bool { return len(out.all()) == 1 }, time.Second, 5*time.Millisecond)

	body.Store(`{"success":true,"gameData":[{"roundNumber":2}]}`)
	p.Refresh()
	require.Eventually(t, func() bool { return len(out.all()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
