package api

import (
	"context"
	"sync"

	"github.com/dgnsrekt/pagewatch/internal/events"
)

// DefaultRecent is the number of capture, change and failure events a
// Recorder keeps when NewRecorder is given a non-positive size.
const DefaultRecent = 200

// Recorder is an events.Sink that keeps the most recent events in memory
// for the status endpoints. Monitoring reports are kept separately so that
// busy capture traffic never evicts them.
type Recorder struct {
	mu      sync.RWMutex
	size    int
	recent  []events.Event
	reports []events.Event
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultRecent
	}
	return &Recorder{size: size}
}

func (r *Recorder) Emit(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Kind == events.KindReport {
		r.reports = appendBounded(r.reports, ev, r.size)
		return
	}
	r.recent = appendBounded(r.recent, ev, r.size)
}

// Recent returns up to limit events, newest first. A non-positive limit
// returns everything held.
func (r *Recorder) Recent(limit int, kind events.Kind) []events.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return newestFirst(r.recent, limit, kind)
}

// Reports returns monitoring session reports, newest first.
func (r *Recorder) Reports(limit int) []events.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return newestFirst(r.reports, limit, "")
}

func appendBounded(list []events.Event, ev events.Event, size int) []events.Event {
	list = append(list, ev)
	if len(list) > size {
		list = append(list[:0:0], list[len(list)-size:]...)
	}
	return list
}

func newestFirst(list []events.Event, limit int, kind events.Kind) []events.Event {
	out := make([]events.Event, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if kind != "" && list[i].Kind != kind {
			continue
		}
		out = append(out, list[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
