// Package logger defines the logging interface every component of this module logs through.
//
// The default implementation writes through log/slog. See the zerolog subpackage
// for an adapter over github.com/rs/zerolog.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the structured logger used across the module.
// args are alternating key/value pairs, as accepted by log/slog.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type SlogHandler struct {
	logger *slog.Logger
}

// New returns a Logger writing through the given slog.Handler.
func New(h slog.Handler) *SlogHandler {
	return &SlogHandler{logger: slog.New(h)}
}

// NewText is a shorthand for a text handler writing to w at the given level.
func NewText(w io.Writer, level slog.Level) *SlogHandler {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Default returns a text logger on stderr at info level.
func Default() *SlogHandler {
	return NewText(os.Stderr, slog.LevelInfo)
}

func (handler *SlogHandler) Error(msg string, args ...any) {
	handler.logger.Error(msg, args...)
}

func (handler *SlogHandler) Warn(msg string, args ...any) {
	handler.logger.Warn(msg, args...)
}

func (handler *SlogHandler) Info(msg string, args ...any) {
	handler.logger.Info(msg, args...)
}

func (handler *SlogHandler) Debug(msg string, args ...any) {
	handler.logger.Debug(msg, args...)
}

type nop struct{}

func (nop) Error(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (nop) Info(string, ...any)  {}
func (nop) Debug(string, ...any) {}

// Nop returns a Logger that drops everything.
func Nop() Logger {
	return nop{}
}

// OrNop returns l, or a no-op Logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}
