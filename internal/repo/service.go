package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
)

// ProviderConfig selects a provider.
type ProviderConfig struct {
	Kind    string // github, git or dir
	Token   string
	APIURL  string
	Dir     string
	Filter  *Filter
	Options httpclient.Options
}

// NewProvider builds the provider named by cfg.Kind.
func NewProvider(cfg ProviderConfig, logger *logging.Logger) (Provider, error) {
	filter := cfg.Filter
	if filter == nil {
		filter = DefaultFilter()
	}
	switch cfg.Kind {
	case "", "github":
		opts := cfg.Options
		if opts.Name == "" {
			opts.Name = "github"
		}
		if opts.BaseURL == "" {
			opts.BaseURL = strings.TrimSuffix(cfg.APIURL, "/")
		}
		if opts.BaseURL == "" {
			opts.BaseURL = "https://api.github.com"
		}
		if opts.Retries == 0 {
			opts.Retries = 2
		}
		return NewGitHub(httpclient.New(opts), cfg.Token, filter, logger), nil
	case "git":
		return NewGit(filter, logger), nil
	case "dir":
		return NewDir(cfg.Dir, filter, logger), nil
	default:
		return nil, fmt.Errorf("unknown repository provider %q", cfg.Kind)
	}
}

// Service fetches and rewrites repositories.
type Service struct {
	provider Provider
	rewriter *Rewriter
}

// NewService combines a provider and a rewriter.
func NewService(provider Provider, rewriter *Rewriter) *Service {
	return &Service{provider: provider, rewriter: rewriter}
}

// Load parses rawURL, fetches the tree and rewrites it.
func (s *Service) Load(ctx context.Context, rawURL string) (Ref, Files, error) {
	ref, err := ParseURL(rawURL)
	if err != nil {
		return Ref{}, nil, err
	}
	files, err := s.provider.Fetch(ctx, ref)
	if err != nil {
		return ref, nil, err
	}
	rewritten, err := s.rewriter.Rewrite(ref, files)
	if err != nil {
		return ref, nil, err
	}
	return ref, rewritten, nil
}
