// Package notify posts ntfy-style plain-text notifications when a monitored
// page changes.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgnsrekt/pagewatch/internal/events"
)

const (
	sendTimeout  = 5 * time.Second
	closeTimeout = 10 * time.Second
	queueSize    = 64
)

// Change notifications are limited to a burst of DefaultBurst, refilled at
// DefaultRate. Session reports are never limited.
var (
	DefaultRate  = rate.Every(10 * time.Second)
	DefaultBurst = 5
)

// Message is one notification.
type Message struct {
	Title string
	Tags  []string
	Body  string
}

// Send posts msg to endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint string, msg Message) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}
	if endpoint == "" {
		return fmt.Errorf("ntfy notification: empty endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}
	if len(msg.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.Tags, ","))
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// Notifier is an events.Sink that sends a notification for every detected
// change and every finished monitoring session. Messages are queued and
// posted by one background goroutine; Emit only filters and enqueues.
type Notifier struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	limiter  *rate.Limiter

	sendCh chan outgoing
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

type outgoing struct {
	kind   events.Kind
	target string
	msg    Message
}

// NewNotifier returns a Notifier posting to endpoint. A nil client uses
// http.DefaultClient. Close must be called to flush pending messages.
func NewNotifier(endpoint string, client *http.Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		endpoint: endpoint,
		client:   client,
		logger:   logger,
		limiter:  rate.NewLimiter(DefaultRate, DefaultBurst),
		sendCh:   make(chan outgoing, queueSize),
		done:     make(chan struct{}),
	}
	n.wg.Add(1)
	go n.sendLoop()
	return n
}

// WithLimit replaces the change notification rate limit.
func (n *Notifier) WithLimit(limit rate.Limit, burst int) *Notifier {
	n.limiter = rate.NewLimiter(limit, burst)
	return n
}

// Emit queues a notification for ev. A full queue drops it with a warning.
func (n *Notifier) Emit(_ context.Context, ev events.Event) {
	msg, ok := messageFor(ev)
	if !ok {
		return
	}
	select {
	case <-n.done:
		n.logger.Debug("notifier closed, dropping notification", "target", ev.Target, "kind", ev.Kind)
		return
	default:
	}
	if ev.Kind == events.KindChange && !n.limiter.Allow() {
		n.logger.Warn("change notification dropped, rate limited", "target", ev.Target, "role", ev.Role)
		return
	}
	select {
	case n.sendCh <- outgoing{kind: ev.Kind, target: ev.Target, msg: msg}:
	default:
		n.logger.Warn("notification queue full, dropping notification", "target", ev.Target, "kind", ev.Kind)
	}
}

// Close sends what is already queued and stops the sender.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() {
		close(n.done)

		finished := make(chan struct{})
		go func() {
			n.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(closeTimeout):
			n.logger.Warn("notifier close timeout, pending notifications may be lost", "endpoint", n.endpoint)
		}
	})
	return nil
}

func (n *Notifier) sendLoop() {
	defer n.wg.Done()

	for {
		select {
		case out := <-n.sendCh:
			n.send(out)
		case <-n.done:
			for {
				select {
				case out := <-n.sendCh:
					n.send(out)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) send(out outgoing) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := Send(ctx, n.client, n.endpoint, out.msg); err != nil {
		n.logger.Warn("notification failed", "target", out.target, "kind", out.kind, "error", err)
		return
	}
	n.logger.Debug("notification sent", "target", out.target, "kind", out.kind)
}

func messageFor(ev events.Event) (Message, bool) {
	switch ev.Kind {
	case events.KindChange:
		return Message{
			Title: "pagewatch: " + ev.Target + " changed",
			Tags:  []string{"camera_flash"},
			Body:  fmt.Sprintf("%s changed at %s (%s)\n%s", ev.Target, ev.Time.UTC().Format(time.RFC3339), ev.Role, ev.FilePath),
		}, true
	case events.KindReport:
		if ev.Summary == nil {
			return Message{}, false
		}
		s := ev.Summary
		body := fmt.Sprintf("%s: %d samples, %d changes, %d failures in %s",
			ev.Target, s.Samples, s.Changes, s.Failures, s.Elapsed.Round(time.Second))
		if s.ChangeRateMS != nil {
			body += fmt.Sprintf(", one change every %s", (time.Duration(*s.ChangeRateMS) * time.Millisecond).Round(time.Second))
		}
		return Message{
			Title: "pagewatch: monitoring " + ev.Target + " complete",
			Tags:  []string{"white_check_mark"},
			Body:  body,
		}, true
	default:
		return Message{}, false
	}
}
