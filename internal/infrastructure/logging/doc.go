// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Log Levels:
//   - Debug: Verbose debugging information
//   - Info: General informational messages
//   - Warn: Warning messages
//   - Error: Error messages
//   - Fatal: Fatal errors (exits process)
//
// Features:
//   - Zero-allocation logging in production
//   - Structured fields for context
//   - Named child loggers per component (relay, sandbox, poller)
//   - Optional rotated file output via lumberjack (LOG_FILE)
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Named("relay").Info("frame relayed", zap.String("id", id))
//	logger.Error("Failed to connect", zap.Error(err))
package logging
