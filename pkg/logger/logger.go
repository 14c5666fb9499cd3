// Package logger wraps log/slog with category-gated debug helpers for
// the WFD pipeline: rtsp, rtp, ts (transport-stream), hdcp, session.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// LogLevel represents the logging verbosity level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory is a targeted debug knob for one pipeline stage.
type DebugCategory string

const (
	DebugRTSP    DebugCategory = "rtsp"
	DebugRTP     DebugCategory = "rtp"
	DebugTS      DebugCategory = "ts"
	DebugHDCP    DebugCategory = "hdcp"
	DebugSession DebugCategory = "session"
	DebugAll     DebugCategory = "all"
)

// OutputFormat determines the log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds logger configuration.
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// NewConfig creates a new logger configuration with defaults.
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel.
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

// ParseFormat converts a string to OutputFormat.
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

// ToSlogLevel converts LogLevel to slog.Level.
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnableCategory enables a specific debug category.
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		c.EnabledCategories[DebugRTSP] = true
		c.EnabledCategories[DebugRTP] = true
		c.EnabledCategories[DebugTS] = true
		c.EnabledCategories[DebugHDCP] = true
		c.EnabledCategories[DebugSession] = true
	} else {
		c.EnabledCategories[category] = true
	}
}

// IsCategoryEnabled checks if a debug category is enabled.
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// Logger wraps slog.Logger with category-based debugging.
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// New creates a new Logger instance with the given configuration.
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.Level.ToSlogLevel()}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, handlerOpts)
	default:
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
		file:   file,
	}, nil
}

// Close closes the log file if one was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) debugIf(cat DebugCategory, msg string, args ...any) {
	if l.config.IsCategoryEnabled(cat) {
		args = append([]any{"category", string(cat)}, args...)
		l.Debug(msg, args...)
	}
}

// DebugRTSP logs RTSP protocol details if the rtsp category is enabled.
func (l *Logger) DebugRTSP(msg string, args ...any) { l.debugIf(DebugRTSP, msg, args...) }

// DebugRTP logs RTP packet details if the rtp category is enabled.
func (l *Logger) DebugRTP(msg string, args ...any) { l.debugIf(DebugRTP, msg, args...) }

// DebugTS logs transport-stream packetizer details if the ts category is enabled.
func (l *Logger) DebugTS(msg string, args ...any) { l.debugIf(DebugTS, msg, args...) }

// DebugHDCP logs HDCP encrypt/decrypt bookkeeping if the hdcp category is enabled.
func (l *Logger) DebugHDCP(msg string, args ...any) { l.debugIf(DebugHDCP, msg, args...) }

// DebugSession logs playback session lifecycle if the session category is enabled.
func (l *Logger) DebugSession(msg string, args ...any) { l.debugIf(DebugSession, msg, args...) }

// DebugRTPPacket logs detailed RTP packet information.
func (l *Logger) DebugRTPPacket(seq uint16, timestamp uint32, payloadType uint8, payloadSize int) {
	if l.config.IsCategoryEnabled(DebugRTP) {
		l.Debug("RTP packet",
			"category", "rtp",
			"sequence", seq,
			"timestamp", timestamp,
			"payload_type", payloadType,
			"payload_size", payloadSize)
	}
}

// WithContext threads the receiver unchanged; category/level state is
// not context-scoped, so this just satisfies the common With(ctx) shape.
func (l *Logger) WithContext(_ context.Context) *Logger {
	return &Logger{Logger: l.Logger, config: l.config, file: l.file}
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), config: l.config, file: l.file}
}

// Global default logger.
var (
	defaultLogger *Logger
	once          sync.Once
)

// SetDefault sets the global default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the default logger, creating one if necessary.
func Default() *Logger {
	once.Do(func() {
		logger, err := New(NewConfig())
		if err != nil {
			logger = &Logger{Logger: slog.Default(), config: NewConfig()}
		}
		defaultLogger = logger
	})
	return defaultLogger
}
