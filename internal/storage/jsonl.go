package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/pagewatch/internal/events"
)

const closeTimeout = 5 * time.Second

// EventLog appends events as JSON lines to a size-rotated file. Writes are
// queued and performed by one background goroutine so Emit never blocks
// the capture loop.
type EventLog struct {
	path    string
	writeCh chan events.Event
	done    chan struct{}
	wg      sync.WaitGroup
	out     *lumberjack.Logger
	logger  *slog.Logger
	mu      sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewEventLog opens an async JSONL writer at path, creating its directory.
func NewEventLog(path string, bufferSize, maxSizeMB int, logger *slog.Logger) (*EventLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("event log: mkdir %s: %w", filepath.Dir(path), err)
	}

	w := &EventLog{
		path:    path,
		writeCh: make(chan events.Event, bufferSize),
		done:    make(chan struct{}),
		logger:  logger,
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
	}

	w.wg.Add(1)
	go w.writeLoop()

	logger.Info("event log opened", "file", path)
	return w, nil
}

// Emit queues ev. A full buffer drops the event with a warning.
func (w *EventLog) Emit(_ context.Context, ev events.Event) {
	select {
	case <-w.done:
		w.logger.Debug("event log closed, dropping event", "kind", ev.Kind, "target", ev.Target)
		return
	default:
	}

	select {
	case w.writeCh <- ev:
	default:
		w.logger.Warn("event log buffer full, dropping event", "kind", ev.Kind, "target", ev.Target)
	}
}

// Close flushes queued events and closes the file.
func (w *EventLog) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)

		finished := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(closeTimeout):
			w.logger.Warn("event log close timeout, some events may be lost", "file", w.path)
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		w.closeErr = w.out.Close()
	})
	return w.closeErr
}

func (w *EventLog) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case ev := <-w.writeCh:
			w.writeEvent(ev)
		case <-w.done:
			for {
				select {
				case ev := <-w.writeCh:
					w.writeEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func (w *EventLog) writeEvent(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error("event log marshal failed", "error", err, "kind", ev.Kind)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		w.logger.Error("event log write failed", "error", err, "file", w.path)
	}
}
