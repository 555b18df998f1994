package repo

import (
	"path"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultExclude lists paths that are never part of a runnable source tree.
var DefaultExclude = []string{
	".git/**",
	"**/node_modules/**",
	"dist/**",
	"build/**",
	".next/**",
	"coverage/**",
	"**/.DS_Store",
}

// Filter decides which repository files are loaded.
type Filter struct {
	Exclude []string
	// MaxSize skips larger files; zero disables the check.
	MaxSize int64
}

// DefaultFilter excludes build output and dependencies and caps files at 2MB.
func DefaultFilter() *Filter {
	return &Filter{
		Exclude: append([]string(nil), DefaultExclude...),
		MaxSize: 2 << 20,
	}
}

// SkipPath reports whether p matches an exclude pattern. Patterns are
// matched against slash-separated, repository-relative paths.
func (f *Filter) SkipPath(p string) bool {
	if f == nil {
		return false
	}
	p = path.Clean(p)
	for _, pattern := range f.Exclude {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// SkipSize reports whether a file of size bytes is too large.
func (f *Filter) SkipSize(size int64) bool {
	return f != nil && f.MaxSize > 0 && size > f.MaxSize
}

// IsText reports whether content is text. The string map handed to the
// execution container cannot carry binary assets.
func IsText(content []byte) bool {
	if len(content) == 0 {
		return true
	}
	for m := mimetype.Detect(content); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
