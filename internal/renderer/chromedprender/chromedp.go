// Package chromedprender implements the renderer capability on top of
// chromedp. Each Session owns one browser process (or one attachment to a
// remote browser) and each Page runs in its own browser context.
package chromedprender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/pagewatch/internal/browser"
	"github.com/dgnsrekt/pagewatch/internal/renderer"
)

// elementTimeout bounds element screenshots, which otherwise wait for the
// node indefinitely.
const elementTimeout = 10 * time.Second

// cancelContext closes a chromedp target. On the first context of a
// browser it also closes that browser.
var cancelContext = chromedp.Cancel

// lifecycleNames maps wait conditions to Page.lifecycleEvent names.
var lifecycleNames = map[renderer.WaitCondition]string{
	renderer.WaitLoad:             "load",
	renderer.WaitDOMContentLoaded: "DOMContentLoaded",
	renderer.WaitNetworkIdle:      "networkIdle",
}

// Launcher starts chromedp sessions.
type Launcher struct {
	Logger *slog.Logger
}

// New returns a chromedp Launcher.
func New(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{Logger: logger}
}

func (l *Launcher) Launch(ctx context.Context, opts renderer.LaunchOptions) (renderer.Session, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
		l.Logger.Debug("chromedp attaching to remote browser", "remote_url", opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		path, err := browser.Detect(opts.BrowserPath)
		if err == nil {
			execOpts = append(execOpts, chromedp.ExecPath(path))
		} else {
			l.Logger.Debug("chromedp browser detection failed, using chromedp default lookup", "error", err)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, renderer.NewError(renderer.KindProtocol, "launch browser", err)
	}

	return &Session{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		remote:        opts.RemoteURL != "",
		logger:        l.Logger,
	}, nil
}

// Session is one chromedp browser. A remote browser is never closed, only
// the tabs this Session opened in it.
type Session struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	remote        bool
	logger        *slog.Logger

	mu    sync.Mutex
	pages []*Page

	closeOnce sync.Once
	closeErr  error
}

func (s *Session) NewPage(ctx context.Context, opts renderer.PageOptions) (renderer.Page, error) {
	if s.browserCtx.Err() != nil {
		return nil, renderer.NewError(renderer.KindClosed, "new page", s.browserCtx.Err())
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithNewBrowserContext())
	p := &Page{ctx: tabCtx, cancel: tabCancel, logger: s.logger}

	var tree *page.FrameTree
	err := p.run(ctx, 0, "open page",
		chromedp.EmulateViewport(int64(opts.Viewport.Width), int64(opts.Viewport.Height)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if opts.IgnoreTLSErrors {
				if err := security.SetIgnoreCertificateErrors(true).Do(ctx); err != nil {
					return fmt.Errorf("ignore certificate errors: %w", err)
				}
			}
			if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
				return fmt.Errorf("enable lifecycle events: %w", err)
			}
			var err error
			tree, err = page.GetFrameTree().Do(ctx)
			return err
		}),
	)
	if err != nil {
		tabCancel()
		return nil, err
	}
	p.frameID = tree.Frame.ID
	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.mu.Unlock()
	return p, nil
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.remote {
			s.mu.Lock()
			pages := s.pages
			s.mu.Unlock()
			for _, p := range pages {
				if err := p.Close(); err != nil {
					s.logger.Debug("chromedp tab close failed", "error", err)
				}
			}
		} else if err := cancelContext(s.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = err
		}
		s.browserCancel()
		s.allocCancel()
	})
	return s.closeErr
}

// Page is one chromedp tab.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	frameID cdp.FrameID
	logger  *slog.Logger

	closeOnce sync.Once
}

// opContext derives an operation context from the tab that also ends when
// the caller's ctx ends.
func (p *Page) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var opCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		opCtx, cancel = context.WithCancel(p.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (p *Page) run(ctx context.Context, timeout time.Duration, op string, actions ...chromedp.Action) error {
	opCtx, cancel := p.opContext(ctx, timeout)
	defer cancel()
	err := chromedp.Run(opCtx, actions...)
	return renderer.Classify(ctx, opCtx, op, err, renderer.KindProtocol)
}

func (p *Page) Goto(ctx context.Context, url string, wait renderer.WaitCondition, timeout time.Duration) error {
	op := "goto " + url
	return p.navigate(ctx, op, wait, timeout, func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return renderer.NewError(renderer.KindNavigation, op, errors.New(res.ErrorText))
		}
		return nil
	})
}

func (p *Page) Reload(ctx context.Context, wait renderer.WaitCondition, timeout time.Duration) error {
	return p.navigate(ctx, "reload", wait, timeout, func(ctx context.Context) error {
		return page.Reload().Do(ctx)
	})
}

// navigate issues a navigation and blocks until the main frame's new
// document reaches the lifecycle milestone for wait.
func (p *Page) navigate(ctx context.Context, op string, wait renderer.WaitCondition, timeout time.Duration, issue func(context.Context) error) error {
	name, ok := lifecycleNames[wait]
	if !ok {
		return renderer.NewError(renderer.KindNavigation, op, fmt.Errorf("unsupported wait condition %q", wait))
	}

	opCtx, cancel := p.opContext(ctx, timeout)
	defer cancel()

	events := make(chan *page.EventLifecycleEvent, 64)
	chromedp.ListenTarget(opCtx, func(ev any) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok || e.FrameID != p.frameID {
			return
		}
		select {
		case events <- e:
		default:
		}
	})

	if err := chromedp.Run(opCtx, chromedp.ActionFunc(issue)); err != nil {
		return renderer.Classify(ctx, opCtx, op, err, renderer.KindNavigation)
	}

	started := false
	for {
		select {
		case <-opCtx.Done():
			return renderer.Classify(ctx, opCtx, op, opCtx.Err(), renderer.KindNavigation)
		case e := <-events:
			if e.Name == "init" {
				started = true
				continue
			}
			if started && e.Name == name {
				p.logger.Debug("chromedp navigation reached milestone", "op", op, "milestone", name)
				return nil
			}
		}
	}
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, "wait for "+selector, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return 0, renderer.NewError(renderer.KindProtocol, "count "+selector, err)
	}
	var n int
	expr := fmt.Sprintf("document.querySelectorAll(%s).length", quoted)
	if err := p.run(ctx, elementTimeout, "count "+selector, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG encoding.
	if err := p.run(ctx, 0, "full page screenshot", chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Page) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, elementTimeout, "element screenshot "+selector,
		chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if cerr := cancelContext(p.ctx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = cerr
		}
		p.cancel()
	})
	return err
}
