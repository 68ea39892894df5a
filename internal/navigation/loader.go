package navigation

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/pagewatch/internal/clock"
	"github.com/dgnsrekt/pagewatch/internal/config"
	"github.com/dgnsrekt/pagewatch/internal/renderer"
)

// SelectorTimeout bounds the best-effort wait for Loader.WaitForSelector.
const SelectorTimeout = 10 * time.Second

// LoadPage is the subset of renderer.Page a Loader drives.
type LoadPage interface {
	Page
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
}

// Loader brings a page to a capturable state: navigate under the wait
// policy, sleep the post-load wait, then wait for an optional selector.
type Loader struct {
	Wait            renderer.WaitCondition
	Timeout         time.Duration
	PostLoadWait    time.Duration
	WaitForSelector string
	Clock           clock.Clock
	Logger          *slog.Logger
}

// LoaderFor builds the Loader described by s.
func LoaderFor(s config.Settings, clk clock.Clock, logger *slog.Logger) Loader {
	return Loader{
		Wait:            s.WaitCondition(),
		Timeout:         s.NavigationTimeout.Duration(),
		PostLoadWait:    s.WaitTime.Duration(),
		WaitForSelector: s.WaitForSelector,
		Clock:           clk,
		Logger:          logger,
	}
}

func (l Loader) clock() clock.Clock {
	if l.Clock == nil {
		return clock.Real{}
	}
	return l.Clock
}

func (l Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Open navigates page to url and settles it.
func (l Loader) Open(ctx context.Context, page LoadPage, url string) error {
	l.logger().Info("navigating", "url", url, "wait", l.Wait)
	if err := Navigate(ctx, page, url, l.Wait, l.Timeout, l.logger()); err != nil {
		return err
	}
	return l.settle(ctx, page, l.PostLoadWait)
}

// Refresh reloads page and settles it with wait as the post-load wait.
func (l Loader) Refresh(ctx context.Context, page LoadPage, wait time.Duration) error {
	if err := Reload(ctx, page, l.Wait, l.Timeout, l.logger()); err != nil {
		return err
	}
	return l.settle(ctx, page, wait)
}

// settle returns only cancellation; a missing selector is logged and ignored.
func (l Loader) settle(ctx context.Context, page LoadPage, wait time.Duration) error {
	if err := l.clock().Sleep(ctx, wait); err != nil {
		return err
	}
	if l.WaitForSelector == "" {
		return nil
	}
	if err := page.WaitForSelector(ctx, l.WaitForSelector, SelectorTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger().Warn("wait for selector failed, continuing anyway",
			"selector", l.WaitForSelector, "error", err)
		return nil
	}
	l.logger().Debug("found selector", "selector", l.WaitForSelector)
	return nil
}
