// Package runlog builds the per-run logger: records go to the caller's
// handler and to a size-rotated text file inside the run directory.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits of run.log.
const (
	MaxSizeMB  = 5
	MaxBackups = 3
)

// Path returns the log file location for a run directory.
func Path(runDir string) string {
	return filepath.Join(runDir, "logs", "run.log")
}

// Open creates the run's log file under runDir and returns a logger that
// writes to both base and the file, tagged with run_id. A nil base writes
// to the file only. The returned closer releases the file; later records
// reach base only.
func Open(runDir, runID string, base slog.Handler, level slog.Leveler) (*slog.Logger, io.Closer, error) {
	path := Path(runDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	file := &logFile{rotator: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
	}}
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})

	var handler slog.Handler = fileHandler
	if base != nil {
		handler = &multiHandler{handlers: []slog.Handler{base, fileHandler}}
	}
	handler = handler.WithAttrs([]slog.Attr{slog.String("run_id", runID)})

	return slog.New(handler), file, nil
}

// logFile drops writes once closed. lumberjack reopens its file on the next
// write, and a straggling engine goroutine may still log after teardown.
type logFile struct {
	mu      sync.Mutex
	rotator *lumberjack.Logger
	closed  bool
}

func (f *logFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return len(p), nil
	}
	return f.rotator.Write(p)
}

func (f *logFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.rotator.Close()
}

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to every enabled handler. A failing handler does
// not keep the record from the others; the first error is returned.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
