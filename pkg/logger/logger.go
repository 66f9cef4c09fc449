package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory represents specific debug categories for targeted debugging.
// This node hands depacketization to go-gst's own elements, so categories
// track the subsystems this repo actually owns rather than wire-level detail.
type DebugCategory string

const (
	DebugRTSP      DebugCategory = "rtsp"
	DebugGst       DebugCategory = "gst"
	DebugWebRTC    DebugCategory = "webrtc"
	DebugSignaling DebugCategory = "signaling"
	DebugSession   DebugCategory = "session"
	DebugAll       DebugCategory = "all"
)

// Config holds logger configuration
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// OutputFormat determines the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Global logger instance
var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger wraps slog.Logger with category-based debugging
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// NewConfig creates a new logger configuration with defaults
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		OutputFile:        "",
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new Logger instance with the given configuration
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{
		Level: cfg.Level.ToSlogLevel(),
	}

	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, handlerOpts)
	case FormatText:
		handler = slog.NewTextHandler(writer, handlerOpts)
	default:
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	logger := &Logger{
		Logger: slog.New(handler),
		config: cfg,
		file:   file,
	}

	return logger, nil
}

// EnableCategory enables a specific debug category
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		c.EnabledCategories[DebugRTSP] = true
		c.EnabledCategories[DebugGst] = true
		c.EnabledCategories[DebugWebRTC] = true
		c.EnabledCategories[DebugSignaling] = true
		c.EnabledCategories[DebugSession] = true
	} else {
		c.EnabledCategories[category] = true
	}
}

// IsCategoryEnabled checks if a debug category is enabled
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// IsDebugEnabled checks if any debug category is enabled
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}

// Close closes the log file if one was opened
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Category-specific logging methods

// DebugRTSP logs RTSP probe/session details if rtsp debugging is enabled
func (l *Logger) DebugRTSP(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugRTSP) {
		args = append([]any{"category", "rtsp"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugGst logs media-graph/pipeline details if gst debugging is enabled
func (l *Logger) DebugGst(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugGst) {
		args = append([]any{"category", "gst"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugWebRTC logs WebRTC endpoint details if webrtc debugging is enabled
func (l *Logger) DebugWebRTC(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugWebRTC) {
		args = append([]any{"category", "webrtc"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugSignaling logs inbound/outbound envelope details if signaling debugging is enabled
func (l *Logger) DebugSignaling(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugSignaling) {
		args = append([]any{"category", "signaling"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugSession logs state-machine transition details if session debugging is enabled
func (l *Logger) DebugSession(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugSession) {
		args = append([]any{"category", "session"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugRTPPacket logs a terse summary of an RTP packet seen during probing
func (l *Logger) DebugRTPPacket(seq uint16, timestamp uint32, payloadType uint8, payloadSize int) {
	if l.config.IsCategoryEnabled(DebugRTSP) {
		l.Debug("RTP packet",
			"category", "rtsp",
			"sequence", seq,
			"timestamp", timestamp,
			"payload_type", payloadType,
			"payload_size", payloadSize)
	}
}

// DebugPipelineState logs a gst element state transition
func (l *Logger) DebugPipelineState(element string, old, newState string) {
	if l.config.IsCategoryEnabled(DebugGst) {
		l.Debug("pipeline state change",
			"category", "gst",
			"element", element,
			"old_state", old,
			"new_state", newState)
	}
}

// WithContext returns a copy of the logger; ctx is not read and adds no attributes
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		Logger: l.Logger,
		config: l.config,
		file:   l.file,
	}
}

// With returns a new Logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// SetDefault sets the global default logger
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the default logger, creating one if necessary
func Default() *Logger {
	once.Do(func() {
		cfg := NewConfig()
		logger, err := New(cfg)
		if err != nil {
			logger = &Logger{
				Logger: slog.Default(),
				config: cfg,
			}
		}
		defaultLogger = logger
	})
	return defaultLogger
}

// Package-level convenience functions

// Debug logs at Debug level using the default logger
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at Info level using the default logger
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at Warn level using the default logger
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at Error level using the default logger
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// DebugRTSP logs at Debug level, gated on the rtsp category, using the
// default logger. Callers that already hold a *Logger should call the
// method directly; this is for packages that only see the ambient default
// (pkg/probe's RTSP wire tracing, pkg/media's pad attach/detach, etc.).
func DebugRTSP(msg string, args ...any) {
	Default().DebugRTSP(msg, args...)
}

// DebugGst logs at Debug level, gated on the gst category, using the
// default logger.
func DebugGst(msg string, args ...any) {
	Default().DebugGst(msg, args...)
}

// DebugWebRTC logs at Debug level, gated on the webrtc category, using the
// default logger.
func DebugWebRTC(msg string, args ...any) {
	Default().DebugWebRTC(msg, args...)
}

// DebugSignaling logs at Debug level, gated on the signaling category,
// using the default logger.
func DebugSignaling(msg string, args ...any) {
	Default().DebugSignaling(msg, args...)
}

// DebugSession logs at Debug level, gated on the session category, using
// the default logger.
func DebugSession(msg string, args ...any) {
	Default().DebugSession(msg, args...)
}

// DebugRTPPacket logs a terse per-packet summary using the default logger.
func DebugRTPPacket(seq uint16, timestamp uint32, payloadType uint8, payloadSize int) {
	Default().DebugRTPPacket(seq, timestamp, payloadType, payloadSize)
}
