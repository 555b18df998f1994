package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

// Dir loads repositories from local checkouts laid out as
// <root>/<owner>/<name>.
type Dir struct {
	root   string
	filter *Filter
	logger *logging.Logger
}

// NewDir creates a provider rooted at root.
func NewDir(root string, filter *Filter, logger *logging.Logger) *Dir {
	return &Dir{root: root, filter: filter, logger: logging.OrNop(logger).Named("dir")}
}

// Fetch walks the checkout of ref.
func (d *Dir) Fetch(ctx context.Context, ref Ref) (Files, error) {
	base := filepath.Join(d.root, ref.Owner, ref.Name)
	info, err := os.Stat(base)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		files = make(Files)
	)
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, base, func(p string, de fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(base, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if de.IsDir() {
			if d.filter.SkipPath(rel + "/x") {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !de.Type().IsRegular() || d.filter.SkipPath(rel) {
			return nil
		}
		if fi, statErr := de.Info(); statErr == nil && d.filter.SkipSize(fi.Size()) {
			return nil
		}

		content, readErr := os.ReadFile(p)
		if readErr != nil {
			d.logger.Warn("Skipping file", zap.String("path", rel), zap.Error(readErr))
			return nil
		}
		if !IsText(content) {
			return nil
		}
		mu.Lock()
		files[rel] = string(content)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", base, err)
	}
	return files, nil
}
