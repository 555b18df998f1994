package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/channel"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/origin"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/sandbox"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
)

var (
	probeBridge  string
	probeOrigin  string
	probeRounds  int
	probeTimeout time.Duration

	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Play an embedded project against a running embed's bridge",
		Long: `probe connects to an embed's bridge websocket as the embedded project
would, creates a backend session through the relay, submits test rounds
and prints the recorded data.`,
		RunE: runProbe,
	}
)

func init() {
	flags := probeCmd.Flags()
	flags.StringVar(&probeBridge, "bridge", "", "bridge websocket url, e.g. ws://localhost:8000/embed/bridge/<id>")
	flags.StringVar(&probeOrigin, "origin", "", "origin to connect as; must be trusted by the embed")
	flags.IntVar(&probeRounds, "rounds", 1, "test rounds to submit")
	flags.DurationVar(&probeTimeout, "timeout", 0, "per-call timeout (CALL_TIMEOUT)")
	_ = probeCmd.MarkFlagRequired("bridge")
	_ = probeCmd.MarkFlagRequired("origin")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	timeout := cfg.Bridge.CallTimeout
	if cmd.Flags().Changed("timeout") {
		timeout = probeTimeout
	}

	hostOrigin, err := originOf(probeBridge)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, probeBridge, http.Header{"Origin": {probeOrigin}})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial bridge: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial bridge: %w", err)
	}
	conn := channel.NewConn(ws, hostOrigin)
	defer conn.Close()

	hostGuard, err := origin.NewGuard(hostOrigin)
	if err != nil {
		return err
	}
	bridge, err := sandbox.New(probeOrigin, conn,
		sandbox.WithGuard(hostGuard),
		sandbox.WithCallTimeout(timeout),
		sandbox.WithLogger(logger))
	if err != nil {
		return err
	}
	defer bridge.Close()

	go func() {
		if err := conn.Listen(ctx, bridge.Dispatch); err != nil {
			logger.Debug("Bridge read ended", zap.Error(err))
		}
	}()

	sessionID, err := bridge.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	logger.Info("Session created", zap.String("session_id", sessionID))

	client := bridge.Client()
	for round := 1; round <= probeRounds; round++ {
		body, _ := sjson.Set(`{"roundData":{"probe":true}}`, "sessionId", sessionID)
		body, _ = sjson.Set(body, "roundNumber", round)
		if _, err := call(ctx, client, http.MethodPost, bridge.URL("/api/game-data"), body, logger); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
	}

	data, err := call(ctx, client, http.MethodGet, bridge.URL("/api/sandbox/get-data?sessionId="+url.QueryEscape(sessionID)), "", logger)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(pretty.Pretty(data))
	return err
}

func call(ctx context.Context, client *http.Client, method, target, body string, logger *logging.Logger) ([]byte, error) {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		var relayErr *sandbox.RelayError
		if errors.As(err, &relayErr) {
			logger.Warn("Relay reported a failure", zap.String("call_id", relayErr.ID), zap.String("reason", relayErr.Reason))
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, req.URL.Path, resp.StatusCode, data)
	}
	return data, nil
}

// originOf maps a bridge websocket url to the host's http origin.
func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid bridge url %q", raw)
	}
	switch u.Scheme {
	case "wss", "https":
		return "https://" + u.Host, nil
	case "ws", "http":
		return "http://" + u.Host, nil
	}
	return "", fmt.Errorf("invalid bridge url scheme %q", u.Scheme)
}
