package capture

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/pagewatch/internal/clock"
	"github.com/dgnsrekt/pagewatch/internal/config"
	"github.com/dgnsrekt/pagewatch/internal/hashing"
	"github.com/dgnsrekt/pagewatch/internal/renderer"
	"github.com/dgnsrekt/pagewatch/internal/renderer/renderertest"
	"github.com/dgnsrekt/pagewatch/internal/snapshot"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	capturer *Capturer
	clock    *clock.Fake
	logs     *bytes.Buffer
}

func newHarness(t *testing.T) harness {
	t.Helper()
	store, err := snapshot.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("snapshot.NewStore() error = %v", err)
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	clk := clock.NewFake(start)
	return harness{capturer: New(store, clk, logger), clock: clk, logs: &buf}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile(%s) failed: %v", path, err)
	}
	return string(data)
}

func TestCaptureWholeDocumentSelectors(t *testing.T) {
	for _, sel := range []string{"", "   ", "body", " body "} {
		h := newHarness(t)
		page := &renderertest.Page{}
		res, err := h.capturer.Capture(context.Background(), page, config.Target{Name: "Example", Selector: sel}, "")
		if err != nil {
			t.Fatalf("Capture(%q) error = %v", sel, err)
		}
		if res.CapturedRegion {
			t.Fatalf("Capture(%q).CapturedRegion = true; want false", sel)
		}
		if res.Mode != ModeFullPage {
			t.Fatalf("Capture(%q).Mode = %q", sel, res.Mode)
		}
		if ops := page.Ops(); len(ops) != 1 || ops[0] != "screenshot" {
			t.Fatalf("Capture(%q) ops = %v; want [screenshot]", sel, ops)
		}
		if len(h.clock.Sleeps()) != 0 {
			t.Fatalf("Capture(%q) slept %v; want no settle delay", sel, h.clock.Sleeps())
		}
		if got := readFile(t, res.FilePath); got != "full-page" {
			t.Fatalf("file content = %q", got)
		}
	}
}

func TestCaptureSelectorNotFoundWarnsOnce(t *testing.T) {
	h := newHarness(t)
	page := &renderertest.Page{}

	res, err := h.capturer.Capture(context.Background(), page, config.Target{Name: "Example", Selector: "#ad"}, "")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if res.CapturedRegion || res.Mode != ModeNotFound {
		t.Fatalf("result = %+v; want full-page not-found fallback", res)
	}
	if got := strings.Count(h.logs.String(), "region selector not found"); got != 1 {
		t.Fatalf("not-found warnings = %d; want 1; logs %q", got, h.logs.String())
	}
	if sleeps := h.clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != DefaultSettleDelay {
		t.Fatalf("sleeps = %v; want one settle delay", sleeps)
	}
	if ops := page.Ops(); strings.Join(ops, ",") != "count,screenshot" {
		t.Fatalf("ops = %v", ops)
	}
}

func TestCaptureRegion(t *testing.T) {
	h := newHarness(t)
	page := &renderertest.Page{
		CountFunc: func(string) (int, error) { return 3, nil },
	}

	res, err := h.capturer.Capture(context.Background(), page, config.Target{Name: "Example", Selector: "#ad"}, RoleInitial)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if !res.CapturedRegion || res.Mode != ModeElement {
		t.Fatalf("result = %+v; want element capture", res)
	}
	if got := readFile(t, res.FilePath); got != "element:#ad" {
		t.Fatalf("file content = %q", got)
	}
	if !strings.Contains(res.FilePath, "example_initial_") {
		t.Fatalf("path %q lacks role tag", res.FilePath)
	}
	if !res.CapturedAt.Equal(start.Add(DefaultSettleDelay)) {
		t.Fatalf("CapturedAt = %v", res.CapturedAt)
	}
}

func TestCaptureRegionErrorsFallBack(t *testing.T) {
	detached := renderer.NewError(renderer.KindProtocol, "element screenshot", errors.New("node detached"))
	tests := []struct {
		name string
		page *renderertest.Page
	}{
		{
			name: "count fails",
			page: &renderertest.Page{
				CountFunc: func(string) (int, error) { return 0, detached },
			},
		},
		{
			name: "element screenshot fails",
			page: &renderertest.Page{
				CountFunc:             func(string) (int, error) { return 1, nil },
				ElementScreenshotFunc: func(string) ([]byte, error) { return nil, detached },
			},
		},
		{
			name: "element screenshot empty",
			page: &renderertest.Page{
				CountFunc:             func(string) (int, error) { return 1, nil },
				ElementScreenshotFunc: func(string) ([]byte, error) { return nil, nil },
			},
		},
	}
	for _, tt := range tests {
		h := newHarness(t)
		res, err := h.capturer.Capture(context.Background(), tt.page, config.Target{Name: "Example", Selector: "#ad"}, "")
		if err != nil {
			t.Fatalf("%s: Capture() error = %v; want fallback", tt.name, err)
		}
		if res.CapturedRegion || res.Mode != ModeFallback {
			t.Fatalf("%s: result = %+v", tt.name, res)
		}
		if got := strings.Count(h.logs.String(), "region capture failed"); got != 1 {
			t.Fatalf("%s: failure warnings = %d; want 1", tt.name, got)
		}
		if got := readFile(t, res.FilePath); got != "full-page" {
			t.Fatalf("%s: file content = %q", tt.name, got)
		}
	}
}

func TestCaptureFullPageFailureIsError(t *testing.T) {
	h := newHarness(t)
	page := &renderertest.Page{
		ScreenshotFunc: func() ([]byte, error) {
			return nil, renderer.NewError(renderer.KindClosed, "full page screenshot", nil)
		},
	}
	_, err := h.capturer.Capture(context.Background(), page, config.Target{Name: "Example"}, "")
	if err == nil {
		t.Fatal("Capture() = nil error; want full-page failure")
	}
	if renderer.KindOf(err) != renderer.KindClosed {
		t.Fatalf("KindOf() = %q; want CLOSED", renderer.KindOf(err))
	}
}

func TestCaptureCancelledDuringSettle(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.clock.OnSleep = func(time.Time) { cancel() }
	page := &renderertest.Page{}

	_, err := h.capturer.Capture(ctx, page, config.Target{Name: "Example", Selector: "#ad"}, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Capture() error = %v; want context.Canceled", err)
	}
	if len(page.Calls()) != 0 {
		t.Fatalf("calls after cancel = %v", page.Ops())
	}
}

func TestCaptureTwiceDistinctPathsEqualDigests(t *testing.T) {
	h := newHarness(t)
	page := &renderertest.Page{}
	target := config.Target{Name: "Static Page"}

	first, err := h.capturer.Capture(context.Background(), page, target, "")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	second, err := h.capturer.Capture(context.Background(), page, target, "")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if first.FilePath == second.FilePath {
		t.Fatalf("paths equal: %q", first.FilePath)
	}

	a, err := hashing.File(first.FilePath)
	if err != nil {
		t.Fatalf("hashing.File() error = %v", err)
	}
	b, err := hashing.File(second.FilePath)
	if err != nil {
		t.Fatalf("hashing.File() error = %v", err)
	}
	if a != b {
		t.Fatalf("digests differ for identical captures: %s vs %s", a, b)
	}
}

func TestSampleRole(t *testing.T) {
	if got := SampleRole(12); got != "sample-12" {
		t.Fatalf("SampleRole(12) = %q", got)
	}
}
