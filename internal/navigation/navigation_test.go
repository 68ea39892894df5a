package navigation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/pagewatch/internal/renderer"
	"github.com/dgnsrekt/pagewatch/internal/renderer/renderertest"
)

func timeoutErr() error {
	return renderer.NewError(renderer.KindTimeout, "goto", context.DeadlineExceeded)
}

func TestNavigateSucceedsFirstTry(t *testing.T) {
	page := &renderertest.Page{}
	if err := Navigate(context.Background(), page, "https://example.test", renderer.WaitLoad, 30*time.Second, nil); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	calls := page.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d; want 1", len(calls))
	}
	if calls[0].Wait != renderer.WaitLoad || calls[0].Timeout != 30*time.Second {
		t.Fatalf("call = %+v", calls[0])
	}
}

func TestNavigateLoadTimeoutRetriesDOMContentLoaded(t *testing.T) {
	page := &renderertest.Page{
		GotoFunc: func(url string, wait renderer.WaitCondition, timeout time.Duration) error {
			if wait == renderer.WaitLoad {
				return timeoutErr()
			}
			return nil
		},
	}

	if err := Navigate(context.Background(), page, "https://example.test", renderer.WaitLoad, 15*time.Second, nil); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}

	calls := page.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d; want 2", len(calls))
	}
	if calls[1].Wait != renderer.WaitDOMContentLoaded {
		t.Fatalf("retry wait = %q; want %q", calls[1].Wait, renderer.WaitDOMContentLoaded)
	}
	if calls[1].Timeout != 15*time.Second {
		t.Fatalf("retry timeout = %v; want same budget 15s", calls[1].Timeout)
	}
}

func TestNavigateRetryFailureIsFailedNavigation(t *testing.T) {
	page := &renderertest.Page{
		GotoFunc: func(url string, wait renderer.WaitCondition, timeout time.Duration) error {
			return timeoutErr()
		},
	}

	err := Navigate(context.Background(), page, "https://example.test", renderer.WaitLoad, time.Second, nil)
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("Navigate() error = %v; want ErrFailed", err)
	}
	var navErr *Error
	if !errors.As(err, &navErr) {
		t.Fatalf("Navigate() error type = %T; want *Error", err)
	}
	if len(navErr.Attempts) != 2 {
		t.Fatalf("attempts = %d; want 2", len(navErr.Attempts))
	}
	if !strings.Contains(err.Error(), "https://example.test") || !strings.Contains(err.Error(), "TIMEOUT") {
		t.Fatalf("error text = %q; want url and cause", err)
	}
	if len(page.Calls()) != 2 {
		t.Fatalf("calls = %d; want exactly one retry", len(page.Calls()))
	}
}

func TestNavigateNonTimeoutDoesNotRetry(t *testing.T) {
	cause := renderer.NewError(renderer.KindNavigation, "goto", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	page := &renderertest.Page{
		GotoFunc: func(url string, wait renderer.WaitCondition, timeout time.Duration) error {
			return cause
		},
	}

	err := Navigate(context.Background(), page, "https://example.test", renderer.WaitLoad, time.Second, nil)
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("Navigate() error = %v; want ErrFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("Navigate() error does not wrap cause: %v", err)
	}
	if len(page.Calls()) != 1 {
		t.Fatalf("calls = %d; want 1", len(page.Calls()))
	}
}

func TestNavigateStricterConditionsDoNotRetry(t *testing.T) {
	for _, wait := range []renderer.WaitCondition{renderer.WaitDOMContentLoaded, renderer.WaitNetworkIdle} {
		page := &renderertest.Page{
			GotoFunc: func(url string, w renderer.WaitCondition, timeout time.Duration) error {
				return timeoutErr()
			},
		}
		err := Navigate(context.Background(), page, "https://example.test", wait, time.Second, nil)
		if !errors.Is(err, ErrFailed) {
			t.Fatalf("Navigate(%s) error = %v; want ErrFailed", wait, err)
		}
		if len(page.Calls()) != 1 {
			t.Fatalf("Navigate(%s) calls = %d; want 1", wait, len(page.Calls()))
		}
	}
}

func TestNavigateCancelledContextIsNotFailedNavigation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	page := &renderertest.Page{
		GotoFunc: func(url string, wait renderer.WaitCondition, timeout time.Duration) error {
			cancel()
			return timeoutErr()
		},
	}

	err := Navigate(ctx, page, "https://example.test", renderer.WaitLoad, time.Second, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Navigate() error = %v; want context.Canceled", err)
	}
	if len(page.Calls()) != 1 {
		t.Fatalf("calls = %d; want no retry after cancel", len(page.Calls()))
	}
}

func TestReloadUsesSamePolicy(t *testing.T) {
	page := &renderertest.Page{
		ReloadFunc: func(wait renderer.WaitCondition, timeout time.Duration) error {
			if wait == renderer.WaitLoad {
				return timeoutErr()
			}
			return nil
		},
	}
	if err := Reload(context.Background(), page, renderer.WaitLoad, time.Second, nil); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := page.Ops(); len(got) != 2 || got[0] != "reload" || got[1] != "reload" {
		t.Fatalf("ops = %v; want two reloads", got)
	}
}
