package relay

import (
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/monitoring"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Broadcaster delivers a frame to every host-side listener of an embed.
type Broadcaster interface {
	Broadcast(frame any)
}

// Announcer re-broadcasts the session id of a successful session creation.
type Announcer struct {
	out       Broadcaster
	onSession func(sessionID string)
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// NewAnnouncer creates an announcer. onSession may be nil.
func NewAnnouncer(out Broadcaster, onSession func(string), logger *logging.Logger, metrics *monitoring.Metrics) *Announcer {
	return &Announcer{
		out:       out,
		onSession: onSession,
		logger:    logging.OrNop(logger).Named("announcer"),
		metrics:   metrics,
	}
}

// Announce extracts sessionId from a session-creation response body and
// broadcasts it. It reports the id and whether an announcement was made.
// A body without a usable id is logged and otherwise ignored.
func (a *Announcer) Announce(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		a.logger.Debug("Session response is not JSON", zap.Int("bytes", len(body)))
		return "", false
	}
	v := gjson.GetBytes(body, "sessionId")
	if v.Type != gjson.String || v.String() == "" {
		a.logger.Debug("Session response has no sessionId")
		return "", false
	}

	sessionID := v.String()
	if a.out != nil {
		a.out.Broadcast(protocol.NewSessionNotification(sessionID))
	}
	if a.onSession != nil {
		a.onSession(sessionID)
	}
	a.metrics.IncAnnouncements()
	a.logger.Info("Session announced", zap.String("session_id", sessionID))
	return sessionID, true
}
