package repo

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrInvalidURL   = errors.New("invalid GitHub repository URL")
	ErrRepoNotFound = errors.New("repository not found")
	ErrNoIndexHTML  = errors.New("could not find index.html in the repository")
)

// Ref names a GitHub repository.
type Ref struct {
	Owner string
	Name  string
}

// ParseURL accepts https://github.com/<owner>/<repo>[/anything]. A trailing
// .git on the repository name is dropped.
func ParseURL(raw string) (Ref, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Hostname() != "github.com" {
		return Ref{}, ErrInvalidURL
	}

	parts := make([]string, 0, 2)
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return Ref{}, ErrInvalidURL
	}

	ref := Ref{Owner: parts[0], Name: strings.TrimSuffix(parts[1], ".git")}
	if ref.Name == "" {
		return Ref{}, ErrInvalidURL
	}
	return ref, nil
}

func (r Ref) String() string {
	return r.Owner + "/" + r.Name
}

// CloneURL returns the https clone address.
func (r Ref) CloneURL() string {
	return "https://github.com/" + r.Owner + "/" + r.Name + ".git"
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug returns the repository name reduced to lowercase words joined by
// dashes, e.g. "Space_Game" -> "space-game".
func (r Ref) Slug() string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(r.Name), "-"), "-")
	if slug == "" {
		return "game"
	}
	return slug
}

// Files maps repository-relative paths to file contents.
type Files map[string]string

// Paths returns the file paths in sorted order.
func (f Files) Paths() []string {
	paths := make([]string, 0, len(f))
	for p := range f {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a copy of f.
func (f Files) Clone() Files {
	out := make(Files, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Provider loads the text files of a repository.
type Provider interface {
	Fetch(ctx context.Context, ref Ref) (Files, error)
}
