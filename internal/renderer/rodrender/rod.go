// Package rodrender implements the renderer capability on top of go-rod.
// Pages are opened in incognito browser contexts, optionally patched with
// go-rod/stealth.
package rodrender

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/dgnsrekt/pagewatch/internal/browser"
	"github.com/dgnsrekt/pagewatch/internal/renderer"
)

const elementTimeout = 10 * time.Second

var lifecycleNames = map[renderer.WaitCondition]proto.PageLifecycleEventName{
	renderer.WaitLoad:             proto.PageLifecycleEventNameLoad,
	renderer.WaitDOMContentLoaded: proto.PageLifecycleEventNameDOMContentLoaded,
	renderer.WaitNetworkIdle:      proto.PageLifecycleEventNameNetworkIdle,
}

// Launcher starts rod sessions.
type Launcher struct {
	Logger *slog.Logger
}

// New returns a rod Launcher.
func New(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{Logger: logger}
}

func (l *Launcher) Launch(ctx context.Context, opts renderer.LaunchOptions) (renderer.Session, error) {
	s := &Session{logger: l.Logger, stealth: opts.Stealth}

	controlURL := opts.RemoteURL
	if controlURL == "" {
		ln := launcher.New().Context(ctx).Headless(opts.Headless).
			Set("disable-dev-shm-usage").
			Set("disable-blink-features", "AutomationControlled")
		if path, err := browser.Detect(opts.BrowserPath); err == nil {
			ln = ln.Bin(path)
		} else if path, found := launcher.LookPath(); found {
			ln = ln.Bin(path)
		} else {
			l.Logger.Debug("rod browser detection failed, rod will download a browser", "error", err)
		}
		u, err := ln.Launch()
		if err != nil {
			return nil, renderer.NewError(renderer.KindProtocol, "launch browser", err)
		}
		s.launcher = ln
		controlURL = u
	}

	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, controlURL, nil); err != nil {
		s.killLocal()
		return nil, renderer.NewError(renderer.KindProtocol, "connect browser", err)
	}
	b := rod.New().Client(cdp.New().Start(ws))
	if err := b.Connect(); err != nil {
		_ = ws.Close()
		s.killLocal()
		return nil, renderer.NewError(renderer.KindProtocol, "connect browser", err)
	}
	s.browser = b
	s.conn = ws
	l.Logger.Debug("rod browser connected", "control_url", controlURL)
	return s, nil
}

// Session is one rod browser. A remote browser is left running on Close;
// only the incognito contexts and the CDP connection are released.
type Session struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	conn     io.Closer
	logger   *slog.Logger
	stealth  bool

	mu       sync.Mutex
	contexts []*rod.Browser
	closed   bool
}

func (s *Session) NewPage(ctx context.Context, opts renderer.PageOptions) (renderer.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, renderer.NewError(renderer.KindClosed, "new page", nil)
	}

	incognito, err := s.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, renderer.Classify(ctx, ctx, "open incognito context", err, renderer.KindProtocol)
	}
	s.mu.Lock()
	s.contexts = append(s.contexts, incognito)
	s.mu.Unlock()

	if opts.IgnoreTLSErrors {
		if err := incognito.IgnoreCertErrors(true); err != nil {
			return nil, renderer.NewError(renderer.KindProtocol, "ignore certificate errors", err)
		}
	}

	var rp *rod.Page
	if s.stealth {
		rp, err = stealth.Page(incognito)
	} else {
		rp, err = incognito.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, renderer.Classify(ctx, ctx, "create page", err, renderer.KindProtocol)
	}

	if err := rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Viewport.Width,
		Height:            opts.Viewport.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = rp.Close()
		return nil, renderer.NewError(renderer.KindProtocol, "set viewport", err)
	}

	return &Page{page: rp}, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, c := range s.contexts {
		if err := c.Close(); err != nil {
			s.logger.Debug("rod incognito context close failed", "error", err)
		}
	}
	var err error
	if s.launcher != nil {
		err = s.browser.Close()
	}
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil {
			s.logger.Debug("rod cdp connection close failed", "error", cerr)
		}
	}
	s.killLocal()
	return err
}

func (s *Session) killLocal() {
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
}

// Page is one rod tab.
type Page struct {
	page *rod.Page
}

func opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (p *Page) Goto(ctx context.Context, url string, wait renderer.WaitCondition, timeout time.Duration) error {
	return p.navigate(ctx, "goto "+url, wait, timeout, func(rp *rod.Page) error {
		return rp.Navigate(url)
	})
}

func (p *Page) Reload(ctx context.Context, wait renderer.WaitCondition, timeout time.Duration) error {
	return p.navigate(ctx, "reload", wait, timeout, func(rp *rod.Page) error {
		return rp.Reload()
	})
}

func (p *Page) navigate(ctx context.Context, op string, wait renderer.WaitCondition, timeout time.Duration, issue func(*rod.Page) error) error {
	name, ok := lifecycleNames[wait]
	if !ok {
		return renderer.NewError(renderer.KindNavigation, op, fmt.Errorf("unsupported wait condition %q", wait))
	}

	opCtx, cancel := opContext(ctx, timeout)
	defer cancel()
	rp := p.page.Context(opCtx)

	waitFor := rp.WaitNavigation(name)
	if err := issue(rp); err != nil {
		return renderer.Classify(ctx, opCtx, op, err, renderer.KindNavigation)
	}
	waitFor()
	if err := opCtx.Err(); err != nil {
		return renderer.Classify(ctx, opCtx, op, err, renderer.KindNavigation)
	}
	return nil
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	op := "wait for " + selector
	opCtx, cancel := opContext(ctx, timeout)
	defer cancel()

	el, err := p.page.Context(opCtx).Element(selector)
	if err != nil {
		return renderer.Classify(ctx, opCtx, op, err, renderer.KindNotFound)
	}
	if err := el.WaitVisible(); err != nil {
		return renderer.Classify(ctx, opCtx, op, err, renderer.KindProtocol)
	}
	return nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	op := "count " + selector
	opCtx, cancel := opContext(ctx, elementTimeout)
	defer cancel()

	els, err := p.page.Context(opCtx).Elements(selector)
	if err != nil {
		return 0, renderer.Classify(ctx, opCtx, op, err, renderer.KindProtocol)
	}
	return len(els), nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	op := "full page screenshot"
	data, err := p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, renderer.Classify(ctx, ctx, op, err, renderer.KindProtocol)
	}
	return data, nil
}

func (p *Page) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	op := "element screenshot " + selector
	opCtx, cancel := opContext(ctx, elementTimeout)
	defer cancel()

	el, err := p.page.Context(opCtx).Element(selector)
	if err != nil {
		return nil, renderer.Classify(ctx, opCtx, op, err, renderer.KindNotFound)
	}
	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, renderer.Classify(ctx, opCtx, op, err, renderer.KindProtocol)
	}
	return data, nil
}

func (p *Page) Close() error {
	return p.page.Close()
}
