package protocol

import "strings"

// Prefixes names the reserved API namespaces. Calls under API are proxied;
// Sandbox is where they land on the backend.
type Prefixes struct {
	API     string
	Sandbox string
}

// DefaultPrefixes returns /api and /api/sandbox.
func DefaultPrefixes() Prefixes {
	return Prefixes{API: "/api", Sandbox: "/api/sandbox"}
}

// Internal reports whether path sits under the internal API prefix.
func (p Prefixes) Internal(path string) bool {
	return strings.HasPrefix(path, p.API+"/")
}

// InSandbox reports whether path is the sandbox namespace or below it.
func (p Prefixes) InSandbox(path string) bool {
	return path == p.Sandbox || strings.HasPrefix(path, p.Sandbox+"/")
}

// SandboxPath maps an API path into the sandbox namespace, keeping the query.
//
//	/api/game-session?x=1  -> /api/sandbox/game-session?x=1
//	/api/sandbox/get-data  -> unchanged
//	/other                 -> /api/sandbox
func (p Prefixes) SandboxPath(path, rawQuery string) string {
	var out string
	switch {
	case p.InSandbox(path):
		out = path
	case p.Internal(path):
		out = p.Sandbox + "/" + strings.TrimPrefix(path, p.API+"/")
	default:
		out = p.Sandbox
	}
	if rawQuery != "" {
		out += "?" + rawQuery
	}
	return out
}

// Endpoint returns the sandbox path of a named route, e.g. "game-session".
func (p Prefixes) Endpoint(name string) string {
	return p.Sandbox + "/" + strings.TrimPrefix(name, "/")
}
