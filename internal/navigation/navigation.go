// Package navigation applies the page-load wait policy: pages that never
// fire a full load event (rotating ads, long polling) get one retry on the
// more lenient DOMContentLoaded milestone.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/pagewatch/internal/renderer"
)

// ErrFailed is matched by every *Error via errors.Is.
var ErrFailed = errors.New("navigation failed")

// Attempt is one try at reaching a wait condition.
type Attempt struct {
	Wait renderer.WaitCondition
	Err  error
}

// Error reports a navigation that could not complete, including the
// lenient retry when one was made.
type Error struct {
	URL      string
	Attempts []Attempt
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Wait, a.Err))
	}
	target := e.URL
	if target == "" {
		target = "reload"
	}
	return fmt.Sprintf("navigate %s: %s", target, strings.Join(parts, "; retry "))
}

// Unwrap exposes the last attempt's cause.
func (e *Error) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

func (e *Error) Is(target error) bool { return target == ErrFailed }

// Page is the subset of renderer.Page navigation needs.
type Page interface {
	Goto(ctx context.Context, url string, wait renderer.WaitCondition, timeout time.Duration) error
	Reload(ctx context.Context, wait renderer.WaitCondition, timeout time.Duration) error
}

// Navigate loads url on page.
func Navigate(ctx context.Context, page Page, url string, wait renderer.WaitCondition, timeout time.Duration, logger *slog.Logger) error {
	return attempt(ctx, url, wait, logger, func(w renderer.WaitCondition) error {
		return page.Goto(ctx, url, w, timeout)
	})
}

// Reload reloads the current document on page.
func Reload(ctx context.Context, page Page, wait renderer.WaitCondition, timeout time.Duration, logger *slog.Logger) error {
	return attempt(ctx, "", wait, logger, func(w renderer.WaitCondition) error {
		return page.Reload(ctx, w, timeout)
	})
}

func attempt(ctx context.Context, url string, wait renderer.WaitCondition, logger *slog.Logger, try func(renderer.WaitCondition) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	err := try(wait)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	failed := &Error{URL: url, Attempts: []Attempt{{Wait: wait, Err: err}}}
	if wait != renderer.WaitLoad || !renderer.IsTimeout(err) {
		return failed
	}

	logger.Warn("navigation load timed out, retrying with domcontentloaded", "url", url, "error", err)
	retryErr := try(renderer.WaitDOMContentLoaded)
	if retryErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	failed.Attempts = append(failed.Attempts, Attempt{Wait: renderer.WaitDOMContentLoaded, Err: retryErr})
	return failed
}
