// Package capture produces one screenshot of a target, cropped to the
// target's region selector when the region can be found and shot, and of
// the full page otherwise.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/pagewatch/internal/clock"
	"github.com/dgnsrekt/pagewatch/internal/config"
)

// DefaultSettleDelay is how long a region gets to render before it is
// looked up.
const DefaultSettleDelay = time.Second

// RoleInitial tags the baseline capture of a monitoring session.
const RoleInitial = "initial"

// SampleRole tags the k-th periodic capture of a monitoring session.
func SampleRole(k int) string { return "sample-" + strconv.Itoa(k) }

// Mode describes how a screenshot was taken.
type Mode string

const (
	ModeFullPage Mode = "full_page"
	ModeElement  Mode = "element"
	ModeNotFound Mode = "full_page_not_found"
	ModeFallback Mode = "full_page_fallback"
)

var errNoMatch = errors.New("selector matched no elements")

// Page is the subset of renderer.Page a capture needs.
type Page interface {
	Count(ctx context.Context, selector string) (int, error)
	Screenshot(ctx context.Context) ([]byte, error)
	ElementScreenshot(ctx context.Context, selector string) ([]byte, error)
}

// Saver persists screenshot bytes and returns the written path.
type Saver interface {
	Save(target, role string, at time.Time, data []byte) (string, error)
}

// Result is the outcome of one capture attempt.
type Result struct {
	Target         config.Target `json:"target"`
	FilePath       string        `json:"file_path"`
	CapturedRegion bool          `json:"captured_region"`
	Mode           Mode          `json:"mode"`
	CapturedAt     time.Time     `json:"captured_at"`
	Role           string        `json:"role,omitempty"`
}

// Capturer takes screenshots and hands them to a Saver.
type Capturer struct {
	store       Saver
	clock       clock.Clock
	logger      *slog.Logger
	settleDelay time.Duration
}

// New returns a Capturer. A nil clock uses the wall clock and a nil logger
// uses slog.Default().
func New(store Saver, clk clock.Clock, logger *slog.Logger) *Capturer {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{store: store, clock: clk, logger: logger, settleDelay: DefaultSettleDelay}
}

// IsRegionSelector reports whether selector names a sub-region of the page.
// Blank selectors and "body" mean the whole document.
func IsRegionSelector(selector string) bool {
	s := strings.TrimSpace(selector)
	return s != "" && s != "body"
}

// Capture screenshots target on page and saves it under role. Only a failed
// full-page screenshot, a failed write, or cancellation is returned as an
// error; region problems degrade to a full-page capture.
func (c *Capturer) Capture(ctx context.Context, page Page, target config.Target, role string) (Result, error) {
	res := Result{Target: target, Role: role}

	data, mode, err := c.shoot(ctx, page, target)
	if err != nil {
		return res, fmt.Errorf("capture %s: %w", target.Name, err)
	}

	res.CapturedAt = c.clock.Now()
	path, err := c.store.Save(target.Name, role, res.CapturedAt, data)
	if err != nil {
		return res, fmt.Errorf("capture %s: %w", target.Name, err)
	}
	res.FilePath = path
	res.Mode = mode
	res.CapturedRegion = mode == ModeElement

	c.logger.Info("screenshot saved",
		"target", target.Name,
		"path", path,
		"mode", mode,
		"role", role,
	)
	return res, nil
}

func (c *Capturer) shoot(ctx context.Context, page Page, target config.Target) ([]byte, Mode, error) {
	if !IsRegionSelector(target.Selector) {
		data, err := fullPage(ctx, page)
		return data, ModeFullPage, err
	}

	selector := strings.TrimSpace(target.Selector)
	data, err := c.region(ctx, page, selector)
	if err == nil {
		return data, ModeElement, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, "", ctxErr
	}

	mode := ModeFallback
	if errors.Is(err, errNoMatch) {
		mode = ModeNotFound
		c.logger.Warn("region selector not found, capturing full page",
			"target", target.Name, "selector", selector)
	} else {
		c.logger.Warn("region capture failed, capturing full page",
			"target", target.Name, "selector", selector, "error", err)
	}

	data, err = fullPage(ctx, page)
	return data, mode, err
}

func (c *Capturer) region(ctx context.Context, page Page, selector string) ([]byte, error) {
	if err := c.clock.Sleep(ctx, c.settleDelay); err != nil {
		return nil, err
	}
	n, err := page.Count(ctx, selector)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errNoMatch
	}
	data, err := page.ElementScreenshot(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty element screenshot")
	}
	return data, nil
}

func fullPage(ctx context.Context, page Page) ([]byte, error) {
	data, err := page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("full page screenshot: %w", err)
	}
	return data, nil
}
