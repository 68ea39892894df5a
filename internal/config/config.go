package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/pagewatch/internal/renderer"
)

// Renderer backends.
const (
	RendererChromedp = "chromedp"
	RendererRod      = "rod"
)

// Millis is a duration expressed in milliseconds in the document.
type Millis int

func (m Millis) Duration() time.Duration { return time.Duration(m) * time.Millisecond }

// Target is one configured page to capture.
type Target struct {
	Name     string `json:"name" yaml:"name"`
	URL      string `json:"url" yaml:"url"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

// Viewport is the browser window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Monitoring configures change-monitoring mode.
type Monitoring struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	Duration            Millis `json:"duration" yaml:"duration"`
	Interval            Millis `json:"interval" yaml:"interval"`
	ReloadBeforeCapture bool   `json:"reloadBeforeCapture" yaml:"reloadBeforeCapture"`
	ReloadWaitTime      Millis `json:"reloadWaitTime" yaml:"reloadWaitTime"`
}

// Settings is shared by every target in a run.
type Settings struct {
	ScreenshotInterval  Millis     `json:"screenshotInterval" yaml:"screenshotInterval"`
	ScreenshotDirectory string     `json:"screenshotDirectory" yaml:"screenshotDirectory"`
	Viewport            Viewport   `json:"viewport" yaml:"viewport"`
	Headless            *bool      `json:"headless,omitempty" yaml:"headless,omitempty"`
	WaitUntil           string     `json:"waitUntil" yaml:"waitUntil"`
	NavigationTimeout   Millis     `json:"navigationTimeout" yaml:"navigationTimeout"`
	WaitTime            Millis     `json:"waitTime" yaml:"waitTime"`
	WaitForSelector     string     `json:"waitForSelector,omitempty" yaml:"waitForSelector,omitempty"`
	Renderer            string     `json:"renderer" yaml:"renderer"`
	BrowserPath         string     `json:"browserPath,omitempty" yaml:"browserPath,omitempty"`
	RemoteURL           string     `json:"remoteURL,omitempty" yaml:"remoteURL,omitempty"`
	Stealth             bool       `json:"stealth" yaml:"stealth"`
	EventLog            string     `json:"eventLog,omitempty" yaml:"eventLog,omitempty"`
	StatusAddr          string     `json:"statusAddr,omitempty" yaml:"statusAddr,omitempty"`
	NotifyURL           string     `json:"notifyURL,omitempty" yaml:"notifyURL,omitempty"`
	MonitoringMode      Monitoring `json:"monitoringMode" yaml:"monitoringMode"`
}

// Config is the whole configuration document.
type Config struct {
	Websites []Target `json:"websites" yaml:"websites"`
	Settings Settings `json:"settings" yaml:"settings"`
}

// Load reads, decodes, defaults, and validates the document at path.
// Documents named *.yaml or *.yml are decoded as YAML, everything else as
// JSON. Every failure is a *Error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Problem: "read failed", Cause: err}
	}
	cfg, err := Parse(data, isYAML(path))
	if err != nil {
		var cfgErr *Error
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
			return nil, cfgErr
		}
		return nil, &Error{Path: path, Problem: "parse failed", Cause: err}
	}
	return cfg, nil
}

// Parse decodes a document, applies environment overrides and defaults,
// and validates the result.
func Parse(data []byte, asYAML bool) (*Config, error) {
	var cfg Config
	if asYAML {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, &Error{Problem: "invalid YAML", Cause: err}
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, &Error{Problem: "invalid JSON", Cause: err}
		}
	}

	applyEnv(&cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (c *Config) applyDefaults() {
	s := &c.Settings
	if s.ScreenshotInterval == 0 {
		s.ScreenshotInterval = 300000
	}
	if s.ScreenshotDirectory == "" {
		s.ScreenshotDirectory = "./screenshots"
	}
	if s.Viewport == (Viewport{}) {
		s.Viewport = Viewport{Width: 1920, Height: 1080}
	}
	if s.Headless == nil {
		headless := true
		s.Headless = &headless
	}
	if s.WaitUntil == "" {
		s.WaitUntil = string(renderer.WaitLoad)
	}
	if s.NavigationTimeout == 0 {
		s.NavigationTimeout = 30000
	}
	if s.Renderer == "" {
		s.Renderer = RendererChromedp
	}
}

// applyEnv lets the environment override a few deployment-specific settings.
func applyEnv(c *Config) {
	s := &c.Settings
	if v := getEnvOrDefault("PAGEWATCH_HEADLESS", ""); v != "" {
		headless := getEnvBoolOrDefault("PAGEWATCH_HEADLESS", true)
		s.Headless = &headless
	}
	s.Renderer = getEnvOrDefault("PAGEWATCH_RENDERER", s.Renderer)
	s.RemoteURL = getEnvOrDefault("PAGEWATCH_REMOTE_URL", s.RemoteURL)
	s.StatusAddr = getEnvOrDefault("PAGEWATCH_STATUS_ADDR", s.StatusAddr)
	s.ScreenshotInterval = Millis(getEnvIntOrDefault("PAGEWATCH_SCREENSHOT_INTERVAL_MS", int(s.ScreenshotInterval)))
}

// Validate returns the first field-level problem in c.
func (c *Config) Validate() error {
	seen := make(map[string]int, len(c.Websites))
	for i, w := range c.Websites {
		field := fmt.Sprintf("websites[%d]", i)
		if strings.TrimSpace(w.Name) == "" {
			return fieldError(field+".name", "must not be empty")
		}
		if prev, ok := seen[w.Name]; ok {
			return fieldError(field+".name", "duplicate of websites[%d] (%q)", prev, w.Name)
		}
		seen[w.Name] = i
		if err := validateURL(field+".url", w.URL, "http", "https", "file"); err != nil {
			return err
		}
	}

	s := c.Settings
	if s.ScreenshotInterval <= 0 {
		return fieldError("settings.screenshotInterval", "must be > 0, got %d", s.ScreenshotInterval)
	}
	if s.Viewport.Width <= 0 {
		return fieldError("settings.viewport.width", "must be > 0, got %d", s.Viewport.Width)
	}
	if s.Viewport.Height <= 0 {
		return fieldError("settings.viewport.height", "must be > 0, got %d", s.Viewport.Height)
	}
	if _, err := renderer.ParseWaitCondition(s.WaitUntil); err != nil {
		return fieldError("settings.waitUntil", "%v", err)
	}
	if s.NavigationTimeout <= 0 {
		return fieldError("settings.navigationTimeout", "must be > 0, got %d", s.NavigationTimeout)
	}
	if s.WaitTime < 0 {
		return fieldError("settings.waitTime", "must be >= 0, got %d", s.WaitTime)
	}
	switch s.Renderer {
	case RendererChromedp, RendererRod:
	default:
		return fieldError("settings.renderer", "must be %q or %q, got %q", RendererChromedp, RendererRod, s.Renderer)
	}
	if s.RemoteURL != "" {
		if err := validateURL("settings.remoteURL", s.RemoteURL, "ws", "wss", "http", "https"); err != nil {
			return err
		}
	}
	if s.NotifyURL != "" {
		if err := validateURL("settings.notifyURL", s.NotifyURL, "http", "https"); err != nil {
			return err
		}
	}

	m := s.MonitoringMode
	if !m.Enabled {
		return nil
	}
	if m.Duration <= 0 {
		return fieldError("settings.monitoringMode.duration", "must be > 0, got %d", m.Duration)
	}
	if m.Interval <= 0 {
		return fieldError("settings.monitoringMode.interval", "must be > 0, got %d", m.Interval)
	}
	if m.Interval >= m.Duration {
		return fieldError("settings.monitoringMode.interval", "must be < duration (%d), got %d", m.Duration, m.Interval)
	}
	if m.ReloadWaitTime < 0 {
		return fieldError("settings.monitoringMode.reloadWaitTime", "must be >= 0, got %d", m.ReloadWaitTime)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &Error{Field: field, Problem: "invalid URL", Cause: err}
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fieldError(field, "scheme must be one of %s, got %q", strings.Join(schemes, ", "), raw)
}

// Enabled returns the enabled targets in configured order.
func (c *Config) Enabled() []Target {
	out := make([]Target, 0, len(c.Websites))
	for _, w := range c.Websites {
		if w.Enabled {
			out = append(out, w)
		}
	}
	return out
}

// WaitCondition returns the parsed waitUntil setting.
func (s Settings) WaitCondition() renderer.WaitCondition {
	w, err := renderer.ParseWaitCondition(s.WaitUntil)
	if err != nil {
		return renderer.WaitLoad
	}
	return w
}

// IsHeadless reports the effective headless setting.
func (s Settings) IsHeadless() bool {
	return s.Headless == nil || *s.Headless
}

// LaunchOptions maps settings onto renderer launch options.
func (s Settings) LaunchOptions() renderer.LaunchOptions {
	return renderer.LaunchOptions{
		Headless:    s.IsHeadless(),
		BrowserPath: s.BrowserPath,
		RemoteURL:   s.RemoteURL,
		Stealth:     s.Stealth,
	}
}

// PageOptions maps settings onto renderer page options.
func (s Settings) PageOptions() renderer.PageOptions {
	return renderer.PageOptions{
		Viewport:        renderer.Viewport{Width: s.Viewport.Width, Height: s.Viewport.Height},
		IgnoreTLSErrors: true,
	}
}
