package repo

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/storage/memory"
	"go.uber.org/zap"
)

// Git loads repositories with a shallow, in-memory clone.
type Git struct {
	filter *Filter
	logger *logging.Logger
	// cloneURL maps a ref to its remote; tests point it at local paths.
	cloneURL func(Ref) string
}

// NewGit creates a clone-based provider.
func NewGit(filter *Filter, logger *logging.Logger) *Git {
	return &Git{
		filter:   filter,
		logger:   logging.OrNop(logger).Named("git"),
		cloneURL: Ref.CloneURL,
	}
}

// Fetch clones the default branch at depth one and reads its tree.
func (g *Git) Fetch(ctx context.Context, ref Ref) (Files, error) {
	r, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:          g.cloneURL(ref),
		Depth:        1,
		SingleBranch: true,
	})
	if errors.Is(err, transport.ErrRepositoryNotFound) || errors.Is(err, transport.ErrAuthenticationRequired) {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", ref, err)
	}

	head, err := r.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := r.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("read commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}

	files := make(Files)
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if g.filter.SkipPath(f.Name) || g.filter.SkipSize(f.Size) {
			return nil
		}
		content, err := readBlob(f)
		if err != nil {
			g.logger.Warn("Skipping file", zap.String("path", f.Name), zap.Error(err))
			return nil
		}
		if !IsText(content) {
			return nil
		}
		files[f.Name] = string(content)
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("Cloned repository",
		zap.String("repo", ref.String()),
		zap.String("commit", head.Hash().String()),
		zap.Int("files", len(files)))
	return files, nil
}

func readBlob(f *object.File) ([]byte, error) {
	rd, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	return io.ReadAll(rd)
}
