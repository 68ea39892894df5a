// Package scheduler captures every enabled target once immediately and then
// once per fixed wall-clock slot until cancelled.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/dgnsrekt/pagewatch/internal/capture"
	"github.com/dgnsrekt/pagewatch/internal/clock"
	"github.com/dgnsrekt/pagewatch/internal/config"
	"github.com/dgnsrekt/pagewatch/internal/events"
	"github.com/dgnsrekt/pagewatch/internal/navigation"
	"github.com/dgnsrekt/pagewatch/internal/renderer"
)

// Outcome is the result of capturing one target in a pass.
type Outcome struct {
	Target config.Target
	Result capture.Result
	Err    error
}

// Scheduler runs capture passes. The pass counter belongs to the instance.
type Scheduler struct {
	launcher renderer.Launcher
	capturer *capture.Capturer
	settings config.Settings

	clock  clock.Clock
	logger *slog.Logger
	sink   events.Sink
	loader navigation.Loader

	pass int
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSink(sink events.Sink) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func New(launcher renderer.Launcher, capturer *capture.Capturer, settings config.Settings, opts ...Option) *Scheduler {
	s := &Scheduler{
		launcher: launcher,
		capturer: capturer,
		settings: settings,
		clock:    clock.Real{},
		logger:   slog.Default(),
		sink:     events.Nop,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loader = navigation.LoaderFor(settings, s.clock, s.logger)
	return s
}

// Passes returns how many passes this Scheduler has started.
func (s *Scheduler) Passes() int { return s.pass }

// Run captures the enabled targets immediately and then at start+k*interval
// until ctx is cancelled. A pass that overruns skips the slots it missed.
// Run returns nil on cancellation and when no target is enabled.
func (s *Scheduler) Run(ctx context.Context, targets []config.Target) error {
	enabled := enabledOnly(targets)
	if len(enabled) == 0 {
		s.logger.Info("no enabled targets, nothing to capture; enable at least one website in the config")
		return nil
	}

	interval := s.settings.ScreenshotInterval.Duration()
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %v", interval)
	}

	s.logger.Info("screenshot service starting",
		"targets", len(enabled),
		"interval", interval,
		"directory", s.settings.ScreenshotDirectory,
	)

	start := s.clock.Now()
	s.RunPass(ctx, enabled)
	next := start.Add(interval)

	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped", "passes", s.pass)
			return nil
		}

		now := s.clock.Now()
		skipped := 0
		for now.After(next) {
			next = next.Add(interval)
			skipped++
		}
		if skipped > 0 {
			s.logger.Warn("scheduler pass overran interval, skipping missed slots",
				"skipped", skipped, "next_run", next)
		}
		s.logger.Info("next capture pass scheduled", "next_run", next, "in", next.Sub(now))

		if err := s.clock.Sleep(ctx, next.Sub(now)); err != nil {
			s.logger.Info("scheduler stopped", "passes", s.pass)
			return nil
		}
		s.RunPass(ctx, enabled)
		next = next.Add(interval)
	}
}

// RunPass captures each enabled target once, sequentially and in order.
// One target's failure never prevents the others from being captured.
func (s *Scheduler) RunPass(ctx context.Context, targets []config.Target) []Outcome {
	s.pass++
	pass := s.pass
	enabled := enabledOnly(targets)

	s.logger.Info("capture pass starting", "pass", pass, "targets", len(enabled), "at", s.clock.Now())

	outcomes := make([]Outcome, 0, len(enabled))
	failed := 0
	for _, target := range enabled {
		if ctx.Err() != nil {
			break
		}
		res, err := s.captureTarget(ctx, target)
		outcomes = append(outcomes, Outcome{Target: target, Result: res, Err: err})

		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failed++
			s.logger.Error("capture failed", "target", target.Name, "url", target.URL, "pass", pass, "error", err)
			s.sink.Emit(ctx, events.Event{
				Kind:   events.KindFailure,
				Time:   s.clock.Now(),
				Target: target.Name,
				URL:    target.URL,
				Pass:   pass,
				Error:  err.Error(),
			})
			continue
		}
		s.sink.Emit(ctx, events.Event{
			Kind:     events.KindCapture,
			Time:     res.CapturedAt,
			Target:   target.Name,
			URL:      target.URL,
			Pass:     pass,
			FilePath: res.FilePath,
			Region:   res.CapturedRegion,
		})
	}

	s.logger.Info("capture pass complete",
		"pass", pass,
		"captured", len(outcomes)-failed,
		"failed", failed,
	)
	return outcomes
}

// captureTarget owns one renderer session for one capture. The session is
// closed on every path, including a panic in the capture code.
func (s *Scheduler) captureTarget(ctx context.Context, target config.Target) (res capture.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("capture panicked", "target", target.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("capture %s: panic: %v", target.Name, r)
		}
	}()

	session, err := s.launcher.Launch(ctx, s.settings.LaunchOptions())
	if err != nil {
		return res, fmt.Errorf("capture %s: launch renderer: %w", target.Name, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.logger.Debug("renderer session close failed", "target", target.Name, "error", cerr)
		}
	}()

	page, err := session.NewPage(ctx, s.settings.PageOptions())
	if err != nil {
		return res, fmt.Errorf("capture %s: open page: %w", target.Name, err)
	}
	if err := s.loader.Open(ctx, page, target.URL); err != nil {
		return res, fmt.Errorf("capture %s: %w", target.Name, err)
	}
	return s.capturer.Capture(ctx, page, target, "")
}

func enabledOnly(targets []config.Target) []config.Target {
	out := make([]config.Target, 0, len(targets))
	for _, t := range targets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}
