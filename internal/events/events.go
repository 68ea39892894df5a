// Package events carries capture and change notifications from the
// scheduler and monitor to optional observers.
package events

import (
	"context"
	"time"
)

// Kind identifies an event.
type Kind string

const (
	KindCapture Kind = "capture"
	KindChange  Kind = "change"
	KindFailure Kind = "failure"
	KindReport  Kind = "report"
)

// Summary is the end-of-session monitoring report carried by KindReport.
type Summary struct {
	SessionID    string        `json:"session_id"`
	StartedAt    time.Time     `json:"started_at"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	Samples      int           `json:"samples"`
	Changes      int           `json:"changes"`
	Failures     int           `json:"failures"`
	ChangeRateMS *int64        `json:"change_rate_ms,omitempty"`
}

// Event is one observation. Fields not relevant to Kind are zero.
type Event struct {
	Kind      Kind      `json:"kind"`
	Time      time.Time `json:"time"`
	Target    string    `json:"target"`
	URL       string    `json:"url,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Pass      int       `json:"pass,omitempty"`
	Role      string    `json:"role,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
	Region    bool      `json:"region,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	Previous  string    `json:"previous_digest,omitempty"`
	Error     string    `json:"error,omitempty"`
	Summary   *Summary  `json:"summary,omitempty"`
}

// Sink receives events. Emit must not block for long and reports its own
// failures; the capture loop never waits on an observer.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Multi fans out to every non-nil sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Nop discards events.
var Nop Sink = SinkFunc(func(context.Context, Event) {})
