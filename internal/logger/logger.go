package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the cashier logging contract.
// Messages are printf-style format strings.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Options controls how New builds a logger.
type Options struct {
	Level  string    // debug, info, warn, error
	Format string    // text or json
	File   string    // optional path; output is also written there with rotation
	Writer io.Writer // console destination, defaults to os.Stderr
}

// SlogLogger implements Logger on top of log/slog.
type SlogLogger struct {
	logger *slog.Logger
	file   *lumberjack.Logger
}

// New creates a SlogLogger from opts.
func New(opts Options) *SlogLogger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	var file *lumberjack.Logger
	if strings.TrimSpace(opts.File) != "" {
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		w = io.MultiWriter(w, file)
	}

	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return &SlogLogger{logger: slog.New(h).With(slog.String("app", "libcashier")), file: file}
}

// Close closes the log file, if any. Loggers made with With share it.
func (l *SlogLogger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// With returns a logger carrying an extra attribute on every record.
func (l *SlogLogger) With(key, value string) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(slog.String(key, value)), file: l.file}
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.logger.Info(format(msg, args))
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(format(msg, args))
}

func (l *SlogLogger) Error(msg string, args ...any) {
	l.logger.Error(format(msg, args))
}

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(format(msg, args))
}

func format(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// ParseLevel converts a level name to a slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Default provides a global default logger writing text at info level to stderr.
var Default Logger = New(Options{})

// Discard drops every message.
var Discard Logger = New(Options{Writer: io.Discard})
