// Package renderertest provides an in-memory renderer for exercising the
// capture core without a browser.
package renderertest

import (
	"context"
	"sync"
	"time"

	"github.com/dgnsrekt/pagewatch/internal/renderer"
)

// Call records one Page method invocation.
type Call struct {
	Op      string
	Arg     string
	Wait    renderer.WaitCondition
	Timeout time.Duration
}

// Page is a scriptable renderer.Page. Nil hooks fall back to success with
// zero matches and a fixed full-page image.
type Page struct {
	GotoFunc              func(url string, wait renderer.WaitCondition, timeout time.Duration) error
	ReloadFunc            func(wait renderer.WaitCondition, timeout time.Duration) error
	WaitForSelectorFunc   func(selector string, timeout time.Duration) error
	CountFunc             func(selector string) (int, error)
	ScreenshotFunc        func() ([]byte, error)
	ElementScreenshotFunc func(selector string) ([]byte, error)

	mu     sync.Mutex
	calls  []Call
	closed bool
}

func (p *Page) record(c Call) {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.mu.Unlock()
}

// Calls returns the recorded invocations in order.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Ops returns only the operation names of Calls.
func (p *Page) Ops() []string {
	calls := p.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Goto(ctx context.Context, url string, wait renderer.WaitCondition, timeout time.Duration) error {
	p.record(Call{Op: "goto", Arg: url, Wait: wait, Timeout: timeout})
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.GotoFunc != nil {
		return p.GotoFunc(url, wait, timeout)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context, wait renderer.WaitCondition, timeout time.Duration) error {
	p.record(Call{Op: "reload", Wait: wait, Timeout: timeout})
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ReloadFunc != nil {
		return p.ReloadFunc(wait, timeout)
	}
	return nil
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	p.record(Call{Op: "wait_selector", Arg: selector, Timeout: timeout})
	if p.WaitForSelectorFunc != nil {
		return p.WaitForSelectorFunc(selector, timeout)
	}
	return nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	p.record(Call{Op: "count", Arg: selector})
	if p.CountFunc != nil {
		return p.CountFunc(selector)
	}
	return 0, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.record(Call{Op: "screenshot"})
	if p.ScreenshotFunc != nil {
		return p.ScreenshotFunc()
	}
	return []byte("full-page"), nil
}

func (p *Page) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	p.record(Call{Op: "element_screenshot", Arg: selector})
	if p.ElementScreenshotFunc != nil {
		return p.ElementScreenshotFunc(selector)
	}
	return []byte("element:" + selector), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Session is an in-memory renderer.Session.
type Session struct {
	Options renderer.LaunchOptions

	newPage func() *Page

	mu      sync.Mutex
	pages   []*Page
	pageOpt []renderer.PageOptions
	closed  int
}

func (s *Session) NewPage(ctx context.Context, opts renderer.PageOptions) (renderer.Page, error) {
	p := &Page{}
	if s.newPage != nil {
		p = s.newPage()
	}
	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.pageOpt = append(s.pageOpt, opts)
	s.mu.Unlock()
	return p, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed > 0
}

// Pages returns the pages opened in this session.
func (s *Session) Pages() []*Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Page(nil), s.pages...)
}

// PageOptions returns the options each page was opened with.
func (s *Session) PageOptions() []renderer.PageOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]renderer.PageOptions(nil), s.pageOpt...)
}

// Launcher is an in-memory renderer.Launcher.
type Launcher struct {
	// NewPage builds the page for each NewPage call. Nil yields &Page{}.
	NewPage func() *Page
	// LaunchErr, when set, fails every Launch.
	LaunchErr error

	mu       sync.Mutex
	sessions []*Session
}

func (l *Launcher) Launch(ctx context.Context, opts renderer.LaunchOptions) (renderer.Session, error) {
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	s := &Session{Options: opts, newPage: l.NewPage}
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
	return s, nil
}

// Sessions returns every launched session in order.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}
