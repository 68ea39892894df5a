// Package controller selects the run mode and wires the capture core to
// its renderer, store and optional observers.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/pagewatch/internal/api"
	"github.com/dgnsrekt/pagewatch/internal/capture"
	"github.com/dgnsrekt/pagewatch/internal/clock"
	"github.com/dgnsrekt/pagewatch/internal/config"
	"github.com/dgnsrekt/pagewatch/internal/events"
	"github.com/dgnsrekt/pagewatch/internal/monitor"
	"github.com/dgnsrekt/pagewatch/internal/netutil"
	"github.com/dgnsrekt/pagewatch/internal/notify"
	"github.com/dgnsrekt/pagewatch/internal/renderer"
	"github.com/dgnsrekt/pagewatch/internal/renderer/chromedprender"
	"github.com/dgnsrekt/pagewatch/internal/renderer/rodrender"
	"github.com/dgnsrekt/pagewatch/internal/scheduler"
	"github.com/dgnsrekt/pagewatch/internal/snapshot"
	"github.com/dgnsrekt/pagewatch/internal/storage"
)

const (
	ModeScheduled  = "scheduled"
	ModeMonitoring = "monitoring"

	shutdownTimeout = 10 * time.Second
)

// Service owns one run of the process.
type Service struct {
	cfg      *config.Config
	launcher renderer.Launcher
	clock    clock.Clock
	logger   *slog.Logger
	client   *http.Client

	store    *snapshot.Store
	recorder *api.Recorder
	sink     events.Sink
	closers  []io.Closer

	statusAddr string
}

type Option func(*Service)

// WithLauncher replaces the renderer selected by settings.renderer.
func WithLauncher(l renderer.Launcher) Option {
	return func(s *Service) {
		if l != nil {
			s.launcher = l
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHTTPClient sets the client used for change notifications.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

// NewLauncher returns the renderer named by settings.renderer.
func NewLauncher(settings config.Settings, logger *slog.Logger) renderer.Launcher {
	if settings.Renderer == config.RendererRod {
		return rodrender.New(logger)
	}
	return chromedprender.New(logger)
}

// NewService prepares the output directory and the configured observers.
// Call Close when done to flush the event log.
func NewService(cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.launcher == nil {
		s.launcher = NewLauncher(cfg.Settings, s.logger)
	}

	store, err := snapshot.NewStore(cfg.Settings.ScreenshotDirectory, s.logger)
	if err != nil {
		return nil, err
	}
	s.store = store

	var sinks events.Multi
	if path := cfg.Settings.EventLog; path != "" {
		w, err := storage.NewEventLog(path, 0, 0, s.logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, w)
		s.closers = append(s.closers, w)
		s.logger.Info("event log enabled", "path", path)
	}
	if endpoint := cfg.Settings.NotifyURL; endpoint != "" {
		n := notify.NewNotifier(endpoint, s.client, s.logger)
		sinks = append(sinks, n)
		s.closers = append(s.closers, n)
		s.logger.Info("change notifications enabled", "endpoint", endpoint)
	}
	if cfg.Settings.StatusAddr != "" {
		s.recorder = api.NewRecorder(api.DefaultRecent)
		sinks = append(sinks, s.recorder)
	}
	s.sink = sinks
	return s, nil
}

// Mode reports which driver Run will use.
func (s *Service) Mode() string {
	if s.cfg.Settings.MonitoringMode.Enabled {
		return ModeMonitoring
	}
	return ModeScheduled
}

// StatusAddr is the bound status API address once Run has started it.
func (s *Service) StatusAddr() string { return s.statusAddr }

// Run drives the selected mode until it finishes or ctx is cancelled.
// Cancellation is a normal stop and returns nil. The status API, when
// configured, runs alongside the driver and stops with it.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if s.recorder != nil {
		ln, err := netutil.Listen(s.cfg.Settings.StatusAddr, netutil.StatusCandidates, true)
		if err != nil {
			return fmt.Errorf("status api: %w", err)
		}
		s.statusAddr = ln.Addr().String()
		s.serveStatus(runCtx, g, ln)
	}

	g.Go(func() error {
		defer stop()
		return s.drive(runCtx)
	})
	return g.Wait()
}

func (s *Service) serveStatus(ctx context.Context, g *errgroup.Group, ln net.Listener) {
	status := api.Status{
		Mode:      s.Mode(),
		Targets:   len(s.cfg.Enabled()),
		Directory: s.store.Dir(),
		StartedAt: s.clock.Now(),
	}
	srv := &http.Server{
		Handler:           api.NewServer(status, s.recorder, s.store, s.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		s.logger.Info("status api listening", "addr", s.statusAddr, "docs", "http://"+s.statusAddr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("status api shutdown failed", "error", err)
		}
		return nil
	})
}

func (s *Service) drive(ctx context.Context) error {
	capturer := capture.New(s.store, s.clock, s.logger)
	if s.Mode() == ModeMonitoring {
		return s.monitorAll(ctx, capturer)
	}
	sched := scheduler.New(s.launcher, capturer, s.cfg.Settings,
		scheduler.WithClock(s.clock),
		scheduler.WithLogger(s.logger),
		scheduler.WithSink(s.sink),
	)
	return sched.Run(ctx, s.cfg.Websites)
}

// monitorAll runs one monitoring session per enabled target in configured
// order. A session that fails to start is logged and the next target still
// runs; the failures are returned together.
func (s *Service) monitorAll(ctx context.Context, capturer *capture.Capturer) error {
	targets := s.cfg.Enabled()
	if len(targets) == 0 {
		s.logger.Info("no enabled targets, nothing to monitor; enable at least one website in the config")
		return nil
	}
	mon := monitor.New(s.launcher, capturer, s.cfg.Settings,
		monitor.WithClock(s.clock),
		monitor.WithLogger(s.logger),
		monitor.WithSink(s.sink),
	)

	var errs []error
	for i, target := range targets {
		s.logger.Info("monitoring target", "target", target.Name, "index", i+1, "of", len(targets))
		if _, err := mon.Run(ctx, target); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("monitoring stopped", "target", target.Name)
				return nil
			}
			s.logger.Error("monitoring session failed", "target", target.Name, "url", target.URL, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes the configured event log.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
