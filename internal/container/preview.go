package container

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Preview targets a hosted in-browser environment. The files travel to the
// browser, which boots them; the host only needs to know the origin the
// project will be served from, https://<id>.<domain>.
type Preview struct {
	domain string
}

// NewPreview creates a runner for previews under domain.
func NewPreview(domain string) *Preview {
	return &Preview{domain: strings.Trim(domain, ".")}
}

// Start computes the surface for spec.
func (p *Preview) Start(ctx context.Context, spec Spec) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	label := hostLabel(spec.ID)
	if label == "" {
		return nil, fmt.Errorf("preview needs an embed id")
	}
	surface, err := SurfaceFromURL("https://" + label + "." + p.domain + "/")
	if err != nil {
		return nil, err
	}
	return &previewInstance{surface: surface, done: make(chan struct{})}, nil
}

type previewInstance struct {
	surface Surface
	done    chan struct{}
	once    sync.Once
}

func (i *previewInstance) Surface() Surface      { return i.surface }
func (i *previewInstance) Done() <-chan struct{} { return i.done }
func (i *previewInstance) Logs() []string        { return nil }

func (i *previewInstance) Close() error {
	i.once.Do(func() { close(i.done) })
	return nil
}

// hostLabel reduces an id to a DNS label.
func hostLabel(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if b.Len() == 63 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
