package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/server"
)

var (
	envFiles   []string
	port       string
	host       string
	backendURL string
	logLevel   string
	dev        bool

	rootCmd = &cobra.Command{
		Use:   "gamelab-host",
		Short: "GameLab sandbox host",
		Long: `GameLab sandbox host fetches game repositories, runs them in an
execution container and relays their API calls to the data-collection
backend over a per-embed message channel.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the host server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd)
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env files to load before reading the environment")
	flags.StringVar(&port, "port", "", "server port (PORT)")
	flags.StringVar(&host, "host", "", "bind address (HOST)")
	flags.StringVar(&backendURL, "backend-url", "", "data-collection backend (BACKEND_URL)")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	flags.BoolVar(&dev, "dev", false, "development logging (LOG_DEV)")

	rootCmd.AddCommand(serveCmd, fetchCmd, probeCmd)
}

// loadConfig reads .env files and the environment, then applies flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("host") {
		cfg.Server.Host = host
	}
	if flags.Changed("backend-url") {
		cfg.Backend.URL = backendURL
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("dev") {
		cfg.Logging.Development = dev
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if cfg.Logging.Development {
		lc = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		lc.Level = cfg.Logging.Level
	}
	lc.File = cfg.Logging.File
	return logging.New(lc)
}

func serve(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Server error", zap.Error(runErr))
	} else {
		logger.Info("Shutting down gracefully")
	}
	if err := srv.Close(); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	return runErr
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
