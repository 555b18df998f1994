package embed

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/channel"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/origin"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/relay"
	"github.com/GriffinCanCode/GameLab/backend/internal/container"
	"github.com/GriffinCanCode/GameLab/backend/internal/domain/telemetry"
	"github.com/GriffinCanCode/GameLab/backend/internal/repo"
)

// Info is the public view of a session.
type Info struct {
	ID         string    `json:"id"`
	Repo       string    `json:"repo"`
	Slug       string    `json:"slug"`
	PreviewURL string    `json:"previewUrl"`
	Origin     string    `json:"origin"`
	SessionID  string    `json:"sessionId,omitempty"`
	Files      int       `json:"files"`
	CreatedAt  time.Time `json:"createdAt"`
	Logs       []string  `json:"logs,omitempty"`
}

// Session is one embedded project with its own guard, relay, UI hub and
// telemetry poller. Nothing in it is shared with other sessions.
type Session struct {
	ID        string
	Ref       repo.Ref
	Files     repo.Files
	CreatedAt time.Time

	guard    *origin.Guard
	relay    *relay.Relay
	hub      *telemetry.Hub
	poller   *telemetry.Poller
	instance container.Instance

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Surface returns where the project runs.
func (s *Session) Surface() container.Surface {
	return s.instance.Surface()
}

// Guard returns the session's trusted senders.
func (s *Session) Guard() *origin.Guard {
	return s.guard
}

// Hub returns the UI fan-out.
func (s *Session) Hub() *telemetry.Hub {
	return s.hub
}

// ActiveSession returns the announced backend session id, if any.
func (s *Session) ActiveSession() string {
	return s.poller.Session()
}

// Serve returns the handler for frames arriving from the project.
func (s *Session) Serve() channel.Handler {
	return s.relay.Serve(s.ctx)
}

// Done is closed once the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Info returns the public view.
func (s *Session) Info() Info {
	surface := s.Surface()
	return Info{
		ID:         s.ID,
		Repo:       s.Ref.String(),
		Slug:       s.Ref.Slug(),
		PreviewURL: surface.URL,
		Origin:     surface.Origin,
		SessionID:  s.ActiveSession(),
		Files:      len(s.Files),
		CreatedAt:  s.CreatedAt,
		Logs:       s.instance.Logs(),
	}
}

// Close stops polling, waits for in-flight relays, disconnects UI
// subscribers and stops the container.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.relay.Close()
		s.hub.Close()
		err = s.instance.Close()
	})
	return err
}
