package container

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNoSurface  = errors.New("container exposed no preview surface")
	ErrUnsafePath = errors.New("file path escapes the workspace")
)

// Surface is where the running project is reachable. Origin is what the
// project's frames are stamped with and must be trusted by the host.
type Surface struct {
	URL    string `json:"url"`
	Origin string `json:"origin"`
}

// SurfaceFromURL derives the surface of a preview URL.
func SurfaceFromURL(raw string) (Surface, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Surface{}, fmt.Errorf("%w: %q", ErrNoSurface, raw)
	}
	return Surface{URL: raw, Origin: strings.ToLower(u.Scheme + "://" + u.Host)}, nil
}

// Spec describes one project to run.
type Spec struct {
	// ID names the embed; runners use it for hostnames and directories.
	ID      string
	Files   map[string]string
	Command string
	Env     map[string]string
}

// Instance is a running project.
type Instance interface {
	Surface() Surface
	// Done is closed when the project stops.
	Done() <-chan struct{}
	// Logs returns recent output, oldest first.
	Logs() []string
	Close() error
}

// Runner starts projects.
type Runner interface {
	Start(ctx context.Context, spec Spec) (Instance, error)
}
