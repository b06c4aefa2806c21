// Copyright 2023 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides the structured, key-value logging sink the rest of
// this module treats as an external collaborator (see the Logger interface
// in les/sync). It is a slim reimplementation of go-ethereum's own log
// package: a log/slog.Handler underneath, with go-stack/stack used by the
// terminal handler to annotate each line with its call site.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/go-stack/stack"
)

// Logger is the structured logging sink every package in this module
// accepts as a collaborator. It never fails: a bad sink is a configuration
// mistake, not a runtime error any caller needs to handle.
type Logger interface {
	// New returns a descendant logger with ctx merged into every record it
	// emits afterwards.
	New(ctx ...any) Logger

	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
}

// LevelTrace sits below slog.LevelDebug, matching go-ethereum's five-level
// scheme (trace/debug/info/warn/error) instead of slog's four.
const LevelTrace = slog.Level(-8)

// LevelCrit sits above slog.LevelError; it does not terminate the process,
// it is simply the most severe bucket a caller can choose.
const LevelCrit = slog.Level(12)

type logger struct {
	inner *slog.Logger
}

// NewLogger wraps an arbitrary slog.Handler as a Logger.
func NewLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

func (l *logger) New(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

func (l *logger) Trace(msg string, ctx ...any) { l.write(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.write(slog.LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.write(slog.LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.write(slog.LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.write(slog.LevelError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...any)  { l.write(LevelCrit, msg, ctx) }

func (l *logger) write(level slog.Level, msg string, ctx []any) {
	l.inner.Log(context.Background(), level, msg, ctx...)
}

// TerminalHandler renders records as human-readable lines, with the level
// label padded to five characters, annotated with the call site, in the
// shape "INFO  [01-02|15:04:05.000] msg key=val (pkg/path/file.go:42)".
func TerminalHandler(w io.Writer, level slog.Level) slog.Handler {
	return &termHandler{w: w, level: level}
}

type termHandler struct {
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
	mu    sync.Mutex
}

func (h *termHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *termHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b []byte
	b = append(b, levelLabel(r.Level)...)
	b = append(b, ' ')
	b = append(b, '[')
	b = append(b, r.Time.Format("01-02|15:04:05.000")...)
	b = append(b, ']', ' ')
	b = append(b, r.Message...)

	for _, a := range h.attrs {
		b = append(b, ' ')
		b = append(b, a.Key...)
		b = append(b, '=')
		b = fmt.Appendf(b, "%v", a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		b = append(b, ' ')
		b = append(b, a.Key...)
		b = append(b, '=')
		b = fmt.Appendf(b, "%v", a.Value.Any())
		return true
	})
	if frame := callerFrame(); frame != "" {
		b = append(b, ' ', '(')
		b = append(b, frame...)
		b = append(b, ')')
	}
	b = append(b, '\n')

	_, err := h.w.Write(b)
	return err
}

func (h *termHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &termHandler{w: h.w, level: h.level, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *termHandler) WithGroup(_ string) slog.Handler { return h }

func levelLabel(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return "TRACE"
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO "
	case level < slog.LevelError:
		return "WARN "
	case level < LevelCrit:
		return "ERROR"
	default:
		return "CRIT "
	}
}

// callerFrame returns the file:line of the Logger method call that
// triggered this record, skipping the frames internal to log/slog, this
// handler, and the logger wrapper (Handle <- slog.Logger.log <-
// slog.Logger.Log <- logger.write <- logger.Info etc. <- caller).
func callerFrame() string {
	call := stack.Caller(6)
	return fmt.Sprintf("%+v", call)
}

var (
	defaultMu     sync.Mutex
	defaultLogger Logger = NewLogger(TerminalHandler(os.Stderr, slog.LevelInfo))
)

// SetDefault replaces the package-level default logger returned by Root.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Root returns the package-level default logger.
func Root() Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultLogger
}

// New is shorthand for Root().New(ctx...).
func New(ctx ...any) Logger { return Root().New(ctx...) }

// Discard is a Logger that drops every record; useful in tests that don't
// want to assert on log output but must satisfy the Logger collaborator.
func Discard() Logger { return NewLogger(slog.NewTextHandler(io.Discard, nil)) }
