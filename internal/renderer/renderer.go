// Package renderer defines the browser capability the capture core depends
// on. Concrete backends live in the chromedprender and rodrender packages.
package renderer

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// WaitCondition is the page lifecycle milestone a navigation waits for.
type WaitCondition string

const (
	WaitLoad             WaitCondition = "load"
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitNetworkIdle      WaitCondition = "networkidle"
)

// ParseWaitCondition maps a configuration value to a WaitCondition.
// Empty input yields WaitLoad.
func ParseWaitCondition(s string) (WaitCondition, error) {
	switch WaitCondition(strings.ToLower(strings.TrimSpace(s))) {
	case "", WaitLoad:
		return WaitLoad, nil
	case WaitDOMContentLoaded:
		return WaitDOMContentLoaded, nil
	case WaitNetworkIdle:
		return WaitNetworkIdle, nil
	default:
		return "", fmt.Errorf("unknown wait condition %q (supported: load, domcontentloaded, networkidle)", s)
	}
}

// Viewport is the emulated window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// LaunchOptions configures a rendering session.
type LaunchOptions struct {
	Headless bool
	// BrowserPath overrides binary detection. Ignored when RemoteURL is set.
	BrowserPath string
	// RemoteURL attaches to an already running browser instead of
	// launching one.
	RemoteURL string
	// Stealth applies anti-automation-detection patches where the backend
	// supports them.
	Stealth bool
}

// PageOptions configures a page opened in a session.
type PageOptions struct {
	Viewport        Viewport
	IgnoreTLSErrors bool
}

// Launcher starts rendering sessions.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Session is an isolated browser context. Close releases every page and
// the underlying browser; it is safe to call more than once.
type Session interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// Page is a single tab inside a Session.
type Page interface {
	Goto(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error
	Reload(ctx context.Context, wait WaitCondition, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// Count returns the number of elements currently matching selector.
	Count(ctx context.Context, selector string) (int, error)
	// Screenshot returns a PNG of the full scrollable page.
	Screenshot(ctx context.Context) ([]byte, error)
	// ElementScreenshot returns a PNG of the first element matching selector.
	ElementScreenshot(ctx context.Context, selector string) ([]byte, error)
	Close() error
}
