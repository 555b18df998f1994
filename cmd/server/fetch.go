package main

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/GameLab/backend/internal/container"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/server"
)

var (
	fetchOut string

	fetchCmd = &cobra.Command{
		Use:   "fetch <github-url>",
		Short: "Fetch and rewrite a repository without starting it",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetch,
	}
)

func init() {
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "write the files to this directory instead of printing JSON")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	repos, err := server.NewRepoService(cfg, logger)
	if err != nil {
		return err
	}
	ref, files, err := repos.Load(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("fetch %s: %w", args[0], err)
	}

	if fetchOut != "" {
		if err := os.MkdirAll(fetchOut, 0o755); err != nil {
			return err
		}
		if err := container.WriteFiles(fetchOut, files); err != nil {
			return err
		}
		logger.Info("Repository written",
			zap.String("repo", ref.String()),
			zap.String("dir", fetchOut),
			zap.Int("files", len(files)))
		return nil
	}

	data, err := sonic.Marshal(map[string]any{"repo": ref.String(), "files": files})
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(pretty.Pretty(data))
	return err
}
