// Package logging builds the process logger: log/slog with a JSON handler on
// stdout, adapted to types.Logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"hookrouter/internal/types"
)

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New returns a JSON logger on stdout at level.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter returns a JSON logger writing to w.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Adapter wraps *slog.Logger to implement types.Logger. slog.Logger.With
// returns *slog.Logger rather than types.Logger, hence the wrapper.
type Adapter struct {
	logger *slog.Logger
}

var _ types.Logger = (*Adapter)(nil)

// Adapt wraps l.
func Adapt(l *slog.Logger) *Adapter { return &Adapter{logger: l} }

func (a *Adapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *Adapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *Adapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *Adapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }

func (a *Adapter) With(args ...any) types.Logger {
	return &Adapter{logger: a.logger.With(args...)}
}

// Slog exposes the wrapped logger.
func (a *Adapter) Slog() *slog.Logger { return a.logger }

// Discard returns a Logger that drops every record.
func Discard() types.Logger { return Adapt(slog.New(slog.DiscardHandler)) }
