// Package origin decides which origins may speak on a bridge channel.
package origin

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

var (
	ErrInvalidRule    = errors.New("invalid origin rule")
	ErrPublicWildcard = errors.New("wildcard over a public suffix")
)

// DefaultRules are the hosted execution environments and their preview
// subdomains.
var DefaultRules = []string{
	"https://stackblitz.com",
	"https://*.stackblitz.io",
	"https://*.webcontainer.io",
	"https://*.webcontainer-api.io",
	"https://*.csb.app",
	"https://*.codesandbox.io",
}

// Rule matches one origin exactly, or every origin whose host ends with a
// full dot-separated label of Host when Wildcard is set.
type Rule struct {
	Scheme   string
	Host     string
	Port     string
	Wildcard bool
}

// ParseRule parses "https://host[:port]" or "https://*.domain[:port]".
func ParseRule(raw string) (Rule, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" || rest == "" {
		return Rule{}, fmt.Errorf("%w: %q", ErrInvalidRule, raw)
	}
	if strings.ContainsAny(rest, "/?#@") {
		return Rule{}, fmt.Errorf("%w: %q has more than scheme and host", ErrInvalidRule, raw)
	}

	rule := Rule{Scheme: strings.ToLower(scheme)}
	host := strings.ToLower(rest)
	if strings.HasPrefix(host, "*.") {
		rule.Wildcard = true
		host = host[2:]
	}
	if h, p, err := net.SplitHostPort(host); err == nil {
		host, rule.Port = h, p
	}
	if host == "" || strings.Contains(host, "*") {
		return Rule{}, fmt.Errorf("%w: %q", ErrInvalidRule, raw)
	}
	rule.Host = host
	if rule.Port == "" {
		rule.Port = defaultPort(rule.Scheme)
	}

	if rule.Wildcard {
		if ps, icann := publicsuffix.PublicSuffix(host); icann && ps == host {
			return Rule{}, fmt.Errorf("%w: %q", ErrPublicWildcard, raw)
		}
	}
	return rule, nil
}

// MustParseRule is ParseRule for static rule lists.
func MustParseRule(raw string) Rule {
	r, err := ParseRule(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// Match reports whether the parsed origin satisfies the rule.
func (r Rule) Match(scheme, host, port string) bool {
	if scheme != r.Scheme || port != r.Port {
		return false
	}
	if !r.Wildcard {
		return host == r.Host
	}
	label, ok := strings.CutSuffix(host, "."+r.Host)
	return ok && label != "" && !strings.HasSuffix(label, ".")
}

func (r Rule) String() string {
	host := r.Host
	if r.Wildcard {
		host = "*." + host
	}
	if r.Port != defaultPort(r.Scheme) {
		host = net.JoinHostPort(host, r.Port)
	}
	return r.Scheme + "://" + host
}

// Guard is the allow-list consulted for every inbound frame.
type Guard struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewGuard builds a guard from rule strings. Any invalid rule fails the
// whole set.
func NewGuard(rules ...string) (*Guard, error) {
	g := &Guard{}
	for _, raw := range rules {
		if err := g.Allow(raw); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Default returns a guard over DefaultRules.
func Default() *Guard {
	g := &Guard{}
	for _, raw := range DefaultRules {
		g.rules = append(g.rules, MustParseRule(raw))
	}
	return g
}

// Allow adds a rule, typically the origin of a freshly started container.
func (g *Guard) Allow(raw string) error {
	rule, err := ParseRule(raw)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.rules {
		if existing == rule {
			return nil
		}
	}
	g.rules = append(g.rules, rule)
	return nil
}

// Clone returns an independent copy of the guard.
func (g *Guard) Clone() *Guard {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return &Guard{rules: append([]Rule(nil), g.rules...)}
}

// Rules returns a snapshot of the rule set.
func (g *Guard) Rules() []Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Rule(nil), g.rules...)
}

// IsTrustedSender reports whether origin is allowed to use the channel.
// Origins with a path, credentials or the opaque "null" value never pass.
func (g *Guard) IsTrustedSender(origin string) bool {
	scheme, host, port, ok := split(origin)
	if !ok {
		return false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, rule := range g.rules {
		if rule.Match(scheme, host, port) {
			return true
		}
	}
	return false
}

// Same reports whether two origins name the same scheme, host and port,
// with default ports filled in.
func Same(a, b string) bool {
	as, ah, ap, ok := split(a)
	if !ok {
		return false
	}
	bs, bh, bp, ok := split(b)
	return ok && as == bs && ah == bh && ap == bp
}

func split(origin string) (scheme, host, port string, ok bool) {
	if origin == "" || origin == "null" {
		return "", "", "", false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || u.User != nil {
		return "", "", "", false
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return "", "", "", false
	}
	scheme = strings.ToLower(u.Scheme)
	host = strings.ToLower(u.Hostname())
	port = u.Port()
	if port == "" {
		port = defaultPort(scheme)
	}
	return scheme, host, port, host != ""
}

func defaultPort(scheme string) string {
	switch scheme {
	case "https", "wss":
		return "443"
	case "http", "ws":
		return "80"
	default:
		return ""
	}
}
