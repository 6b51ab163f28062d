// Package log provides structured logging utilities for the shitcoin node.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// WithBlock returns a logger with block-specific fields
func (l *Logger) WithBlock(hash string, height int64) *Logger {
	return l.WithFields("block_hash", hash, "block_height", height)
}

// Mining-specific logging helpers

// LogBlockFound logs when the hash search finds a valid block
func (l *Logger) LogBlockFound(blockHash string, blockHeight int64, nonce uint64, difficulty uint8) {
	l.Info("block found",
		"block_hash", blockHash,
		"block_height", blockHeight,
		"nonce", nonce,
		"difficulty", difficulty,
	)
}

// LogRetarget logs the installation of a new mining target
func (l *Logger) LogRetarget(blockHeight int64, difficulty uint8, txCount int) {
	l.Debug("new mining target",
		"block_height", blockHeight,
		"difficulty", difficulty,
		"tx_count", txCount,
	)
}

// LogHashrate logs a hashrate measurement
func (l *Logger) LogHashrate(hashrate float64) {
	l.Debug("hashrate sample",
		"hashes_per_sec", hashrate,
	)
}

// LogNewHead logs a chain head change
func (l *Logger) LogNewHead(blockHash string, blockHeight int64, txCount int) {
	l.Info("new chain head",
		"block_hash", blockHash,
		"block_height", blockHeight,
		"tx_count", txCount,
	)
}

// LogConnection logs peer connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}
