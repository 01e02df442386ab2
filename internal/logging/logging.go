package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"astrorig/internal/config"
)

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Setup configures global logging with file output and rotation
func Setup(cfg *config.Config) (*slog.Logger, error) {
	// Parse log level
	level := parseLevel(cfg.Logging.Level)

	// Create log directory
	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
	}

	// Configure output writers
	var writers []io.Writer

	// Always include stdout for immediate feedback
	writers = append(writers, os.Stdout)

	// Add file output if enabled
	if cfg.Logging.FileOutput {
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("astrorig-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %v", err)
		}

		writers = append(writers, file)

		// Create a symlink for the current log
		currentLogPath := filepath.Join(cfg.Logging.LogDir, "astrorig-current.log")
		os.Remove(currentLogPath)
		// Best effort: some filesystems (FAT SD cards) refuse symlinks.
		_ = os.Symlink(filepath.Base(logFile), currentLogPath)
	}

	// Combine all writers
	multiWriter := io.MultiWriter(writers...)

	// Create a standard logger that uses traditional format
	logger := log.New(multiWriter, "", log.LstdFlags)

	// Create a wrapper that implements slog.Handler interface but uses traditional format
	handler := &TraditionalHandler{
		logger: logger,
		level:  level,
	}

	slogLogger := slog.New(handler)

	// Set as default logger
	slog.SetDefault(slogLogger)

	// Log startup information
	slogLogger.Info("astrorig logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)

	return slogLogger, nil
}

// TraditionalHandler implements slog.Handler with traditional log formatting
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String()

	// Build message with attributes
	msg := r.Message
	attrs := make([]string, 0)

	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})

	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}

	// Use traditional format: [LEVEL] message
	h.logger.Printf("[%s] %s", strings.ToUpper(level), msg)

	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// For simplicity, return the same handler
	return h
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	// For simplicity, return the same handler
	return h
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogCaptureError logs a failed capture cycle and the wait before the retry.
func LogCaptureError(logger *slog.Logger, consecutive uint64, backoff time.Duration, err error) {
	level := slog.LevelWarn
	if consecutive > 1 {
		level = slog.LevelDebug
	}
	logger.Log(context.Background(), level, "capture failed",
		"consecutive", consecutive,
		"retry_in", backoff.String(),
		"error", err.Error(),
	)
}

// LogCaptureRecovered logs the first good frame after a run of failures.
func LogCaptureRecovered(logger *slog.Logger, failures uint64, seq uint64) {
	logger.Info("capture recovered",
		"failures", failures,
		"seq", seq,
	)
}

// LogStackSaved logs a persisted stack
func LogStackSaved(logger *slog.Logger, id, path string, frames int, duration time.Duration, stats map[string]any) {
	logger.Info("stack saved",
		"id", id,
		"path", path,
		"frames", frames,
		"duration_ms", duration.Milliseconds(),
		"stats", stats,
	)
}

// LogDarkFrame logs a dark frame load attempt
func LogDarkFrame(logger *slog.Logger, path string, width, height int, err error) {
	if err != nil {
		logger.Error("dark frame load failed",
			"path", path,
			"error", err.Error(),
		)
		return
	}
	logger.Info("dark frame loaded",
		"path", path,
		"width", width,
		"height", height,
	)
}

// LogMountCommand logs an operator command to one of the axes
func LogMountCommand(logger *slog.Logger, axis, action string, value any) {
	logger.Info("mount command",
		"axis", axis,
		"action", action,
		"value", value,
	)
}

// LogDriverStatus logs hardware driver detection and status
func LogDriverStatus(logger *slog.Logger, kind, driver string, available bool, err error) {
	if available {
		logger.Info("driver ready",
			"kind", kind,
			"driver", driver,
		)
	} else {
		logger.Error("driver not available",
			"kind", kind,
			"driver", driver,
			"error", err,
		)
	}
}
