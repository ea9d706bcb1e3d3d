package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileName   = "trench.log"
	logMaxSizeMB  = 5
	logMaxBackups = 3
)

// sink is one destination of log lines and the lowest level it accepts.
type sink struct {
	w     io.Writer
	level slog.Leveler
}

// trenchHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
//
// and writes each line to every sink whose level admits it.
type trenchHandler struct {
	sinks []sink
	opID  string
	attrs []slog.Attr
}

func (h *trenchHandler) Enabled(_ context.Context, level slog.Level) bool {
	for _, s := range h.sinks {
		if level >= s.level.Level() {
			return true
		}
	}
	return false
}

func (h *trenchHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	fmt.Fprintf(&buf, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.opID, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
		return true
	})
	buf.WriteByte('\n')

	for _, s := range h.sinks {
		if r.Level < s.level.Level() {
			continue
		}
		if _, err := s.w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func (h *trenchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &trenchHandler{
		sinks: h.sinks,
		opID:  h.opID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *trenchHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger writing to a size-rotated
// logDir/trench.log and to stderr. The file receives INFO and above, stderr
// WARN and above; verbose lowers both to DEBUG and quiet raises stderr to
// ERROR. The returned closer releases the log file.
func newLogger(logDir, opID string, stderr io.Writer, verbose, quiet bool) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, logFileName),
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
	}

	fileLevel, stderrLevel := slog.LevelInfo, slog.LevelWarn
	switch {
	case verbose:
		fileLevel, stderrLevel = slog.LevelDebug, slog.LevelDebug
	case quiet:
		stderrLevel = slog.LevelError
	}

	handler := &trenchHandler{
		sinks: []sink{
			{w: file, level: fileLevel},
			{w: stderr, level: stderrLevel},
		},
		opID: opID,
	}
	return slog.New(handler), file, nil
}

// slogAdapter wraps *slog.Logger to satisfy the trench.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
