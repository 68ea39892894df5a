// Package monitor watches one target for a bounded time window, comparing
// each periodic capture with the one before it.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/pagewatch/internal/capture"
	"github.com/dgnsrekt/pagewatch/internal/clock"
	"github.com/dgnsrekt/pagewatch/internal/config"
	"github.com/dgnsrekt/pagewatch/internal/events"
	"github.com/dgnsrekt/pagewatch/internal/hashing"
	"github.com/dgnsrekt/pagewatch/internal/navigation"
	"github.com/dgnsrekt/pagewatch/internal/renderer"
)

// Report summarizes one monitoring session.
type Report struct {
	SessionID string           `json:"session_id"`
	Target    config.Target    `json:"target"`
	StartedAt time.Time        `json:"started_at"`
	EndsAt    time.Time        `json:"ends_at"`
	Elapsed   time.Duration    `json:"elapsed_ns"`
	Samples   []capture.Result `json:"samples"`
	Changes   int              `json:"changes"`
	Failures  int              `json:"failures"`
	// ChangeRate is Elapsed divided by Changes; nil when nothing changed.
	ChangeRate *time.Duration `json:"change_rate_ns,omitempty"`
}

// Periodic is the number of samples taken after the initial one.
func (r Report) Periodic() int {
	if len(r.Samples) == 0 {
		return 0
	}
	return len(r.Samples) - 1
}

// Summary converts r to its event form.
func (r Report) Summary() events.Summary {
	s := events.Summary{
		SessionID: r.SessionID,
		StartedAt: r.StartedAt,
		Elapsed:   r.Elapsed,
		Samples:   len(r.Samples),
		Changes:   r.Changes,
		Failures:  r.Failures,
	}
	if r.ChangeRate != nil {
		ms := r.ChangeRate.Milliseconds()
		s.ChangeRateMS = &ms
	}
	return s
}

// Monitor runs monitoring sessions.
type Monitor struct {
	launcher   renderer.Launcher
	capturer   *capture.Capturer
	settings   config.Settings
	monitoring config.Monitoring

	clock  clock.Clock
	logger *slog.Logger
	sink   events.Sink
	newID  func() string
	loader navigation.Loader
}

type Option func(*Monitor)

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithSink(sink events.Sink) Option {
	return func(m *Monitor) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithSessionIDs replaces the uuid session id source.
func WithSessionIDs(next func() string) Option {
	return func(m *Monitor) {
		if next != nil {
			m.newID = next
		}
	}
}

func New(launcher renderer.Launcher, capturer *capture.Capturer, settings config.Settings, opts ...Option) *Monitor {
	m := &Monitor{
		launcher:   launcher,
		capturer:   capturer,
		settings:   settings,
		monitoring: settings.MonitoringMode,
		clock:      clock.Real{},
		logger:     slog.Default(),
		sink:       events.Nop,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.loader = navigation.LoaderFor(settings, m.clock, m.logger)
	return m
}

// Run monitors target for the configured duration. Tick k is scheduled at
// StartedAt+k*interval and is taken only when that instant is before
// EndsAt; a slow tick delays the next one but never drops it. A failure
// before the initial sample is returned as an error. On cancellation the
// partial report is returned with ctx.Err().
func (m *Monitor) Run(ctx context.Context, target config.Target) (report Report, err error) {
	report.SessionID = m.newID()
	report.Target = target
	log := m.logger.With("target", target.Name, "session_id", report.SessionID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("monitor panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("monitor %s: panic: %v", target.Name, r)
		}
	}()

	session, err := m.launcher.Launch(ctx, m.settings.LaunchOptions())
	if err != nil {
		return report, fmt.Errorf("monitor %s: launch renderer: %w", target.Name, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Debug("renderer session close failed", "error", cerr)
		}
	}()

	page, err := session.NewPage(ctx, m.settings.PageOptions())
	if err != nil {
		return report, fmt.Errorf("monitor %s: open page: %w", target.Name, err)
	}
	if err := m.loader.Open(ctx, page, target.URL); err != nil {
		return report, fmt.Errorf("monitor %s: %w", target.Name, err)
	}

	initial, err := m.capturer.Capture(ctx, page, target, capture.RoleInitial)
	if err != nil {
		return report, fmt.Errorf("monitor %s: initial sample: %w", target.Name, err)
	}
	m.emitSample(ctx, report.SessionID, initial)
	baseline := m.hash(log, initial)

	interval := m.monitoring.Interval.Duration()
	report.StartedAt = m.clock.Now()
	report.EndsAt = report.StartedAt.Add(m.monitoring.Duration.Duration())
	report.Samples = append(report.Samples, initial)

	log.Info("monitoring session started",
		"duration", m.monitoring.Duration.Duration(),
		"interval", interval,
		"reload", m.monitoring.ReloadBeforeCapture,
		"ends_at", report.EndsAt,
	)

	for k := 1; ; k++ {
		scheduled := report.StartedAt.Add(time.Duration(k) * interval)
		if !scheduled.Before(report.EndsAt) {
			break
		}
		if err := m.clock.Sleep(ctx, scheduled.Sub(m.clock.Now())); err != nil {
			return m.finish(ctx, log, report), err
		}
		if now := m.clock.Now(); !now.Before(report.EndsAt) {
			log.Warn("monitor tick starting after window end, earlier ticks overran",
				"tick", k, "scheduled", scheduled, "late_by", now.Sub(scheduled), "ends_at", report.EndsAt)
		}

		sample, err := m.tick(ctx, page, target, k)
		if err != nil {
			if ctx.Err() != nil {
				return m.finish(ctx, log, report), ctx.Err()
			}
			report.Failures++
			log.Error("monitor tick failed", "tick", k, "error", err)
			m.sink.Emit(ctx, events.Event{
				Kind:      events.KindFailure,
				Time:      m.clock.Now(),
				Target:    target.Name,
				URL:       target.URL,
				SessionID: report.SessionID,
				Role:      capture.SampleRole(k),
				Error:     err.Error(),
			})
			continue
		}
		report.Samples = append(report.Samples, sample)
		m.emitSample(ctx, report.SessionID, sample)

		digest := m.hash(log, sample)
		if hashing.Equal(baseline, digest) {
			log.Info("no change detected", "tick", k, "path", sample.FilePath)
		} else {
			report.Changes++
			log.Info("change detected",
				"tick", k,
				"changes", report.Changes,
				"path", sample.FilePath,
				"previous", baseline.String(),
				"current", digest.String(),
			)
			m.sink.Emit(ctx, events.Event{
				Kind:      events.KindChange,
				Time:      sample.CapturedAt,
				Target:    target.Name,
				URL:       target.URL,
				SessionID: report.SessionID,
				Role:      sample.Role,
				FilePath:  sample.FilePath,
				Region:    sample.CapturedRegion,
				Digest:    digest.String(),
				Previous:  baseline.String(),
			})
		}
		baseline = digest
	}

	return m.finish(ctx, log, report), nil
}

// tick refreshes the page when configured and takes sample k.
func (m *Monitor) tick(ctx context.Context, page renderer.Page, target config.Target, k int) (res capture.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor tick panicked", "target", target.Name, "tick", k, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("tick %d: panic: %v", k, r)
		}
	}()

	if m.monitoring.ReloadBeforeCapture {
		if err := m.loader.Refresh(ctx, page, m.monitoring.ReloadWaitTime.Duration()); err != nil {
			return res, fmt.Errorf("tick %d: %w", k, err)
		}
	}
	res, err = m.capturer.Capture(ctx, page, target, capture.SampleRole(k))
	if err != nil {
		return res, fmt.Errorf("tick %d: %w", k, err)
	}
	return res, nil
}

func (m *Monitor) hash(log *slog.Logger, res capture.Result) hashing.Maybe {
	digest, err := hashing.FileMaybe(res.FilePath)
	if err != nil {
		log.Warn("sample hash failed, assuming changed", "path", res.FilePath, "error", err)
	}
	return digest
}

func (m *Monitor) emitSample(ctx context.Context, sessionID string, res capture.Result) {
	m.sink.Emit(ctx, events.Event{
		Kind:      events.KindCapture,
		Time:      res.CapturedAt,
		Target:    res.Target.Name,
		URL:       res.Target.URL,
		SessionID: sessionID,
		Role:      res.Role,
		FilePath:  res.FilePath,
		Region:    res.CapturedRegion,
	})
}

func (m *Monitor) finish(ctx context.Context, log *slog.Logger, report Report) Report {
	report.Elapsed = m.clock.Now().Sub(report.StartedAt)
	if report.Changes > 0 {
		rate := report.Elapsed / time.Duration(report.Changes)
		report.ChangeRate = &rate
	}

	attrs := []any{
		"elapsed", report.Elapsed,
		"samples", len(report.Samples),
		"periodic", report.Periodic(),
		"changes", report.Changes,
		"failures", report.Failures,
	}
	if report.ChangeRate != nil {
		attrs = append(attrs, "change_every", *report.ChangeRate)
	} else {
		attrs = append(attrs, "change_every", "n/a")
	}
	log.Info("monitoring session complete", attrs...)

	summary := report.Summary()
	m.sink.Emit(context.WithoutCancel(ctx), events.Event{
		Kind:      events.KindReport,
		Time:      m.clock.Now(),
		Target:    report.Target.Name,
		URL:       report.Target.URL,
		SessionID: report.SessionID,
		Summary:   &summary,
	})
	return report
}
