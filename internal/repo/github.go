package repo

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// GitHub loads repositories through the REST trees and blobs API.
type GitHub struct {
	client      *httpclient.Client
	filter      *Filter
	logger      *logging.Logger
	concurrency int
}

// NewGitHub creates a provider. client should have the API base URL set;
// token may be empty for public repositories.
func NewGitHub(client *httpclient.Client, token string, filter *Filter, logger *logging.Logger) *GitHub {
	if token != "" {
		client.SetBearerAuth(token)
	}
	client.SetHeader("Accept", "application/vnd.github+json")
	client.SetHeader("X-GitHub-Api-Version", "2022-11-28")
	return &GitHub{
		client:      client,
		filter:      filter,
		logger:      logging.OrNop(logger).Named("github"),
		concurrency: 8,
	}
}

type treeEntry struct {
	Path string
	SHA  string
	Size int64
}

// Fetch loads every text blob of the default branch. Files that fail to
// load are logged and left out.
func (g *GitHub) Fetch(ctx context.Context, ref Ref) (Files, error) {
	repoPath := fmt.Sprintf("/repos/%s/%s", ref.Owner, ref.Name)

	info, err := g.get(ctx, repoPath, nil)
	if err != nil {
		return nil, err
	}
	branch := gjson.GetBytes(info, "default_branch").String()
	if branch == "" {
		return nil, fmt.Errorf("github %s: no default branch", ref)
	}

	tree, err := g.get(ctx, repoPath+"/git/trees/"+branch, map[string]string{"recursive": "1"})
	if err != nil {
		return nil, err
	}
	if gjson.GetBytes(tree, "truncated").Bool() {
		g.logger.Warn("Tree listing truncated", zap.String("repo", ref.String()))
	}

	var entries []treeEntry
	gjson.GetBytes(tree, "tree").ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() != "blob" {
			return true
		}
		e := treeEntry{Path: item.Get("path").String(), SHA: item.Get("sha").String(), Size: item.Get("size").Int()}
		if e.Path == "" || e.SHA == "" || g.filter.SkipPath(e.Path) || g.filter.SkipSize(e.Size) {
			return true
		}
		entries = append(entries, e)
		return true
	})

	files := make(Files, len(entries))
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, g.concurrency)
	)
	for _, e := range entries {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}
		wg.Add(1)
		go func(e treeEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			content, err := g.blob(ctx, repoPath, e.SHA)
			if err != nil {
				g.logger.Warn("Skipping file", zap.String("path", e.Path), zap.Error(err))
				return
			}
			if !IsText(content) {
				g.logger.Debug("Skipping binary file", zap.String("path", e.Path))
				return
			}
			mu.Lock()
			files[e.Path] = string(content)
			mu.Unlock()
		}(e)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.logger.Info("Fetched repository",
		zap.String("repo", ref.String()),
		zap.String("branch", branch),
		zap.Int("files", len(files)))
	return files, nil
}

func (g *GitHub) blob(ctx context.Context, repoPath, sha string) ([]byte, error) {
	body, err := g.get(ctx, repoPath+"/git/blobs/"+sha, nil)
	if err != nil {
		return nil, err
	}
	if enc := gjson.GetBytes(body, "encoding").String(); enc != "base64" {
		return nil, fmt.Errorf("unsupported blob encoding %q", enc)
	}
	// the API wraps base64 content at 60 columns
	encoded := strings.ReplaceAll(gjson.GetBytes(body, "content").String(), "\n", "")
	return base64.StdEncoding.DecodeString(encoded)
}

func (g *GitHub) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	rq, err := g.client.Request(ctx)
	if err != nil {
		return nil, err
	}
	if query != nil {
		rq.SetQueryParams(query)
	}
	resp, err := g.client.Execute(func() (*resty.Response, error) {
		return rq.Get(path)
	})
	if err != nil {
		return nil, fmt.Errorf("github %s: %w", path, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, ErrRepoNotFound
	case !resp.IsSuccess():
		return nil, fmt.Errorf("github %s: status %d: %s", path, resp.StatusCode(),
			gjson.GetBytes(resp.Body(), "message").String())
	}
	return resp.Body(), nil
}
