// Package notify delivers operator alerts to chat channels. Alerts are
// tagged with an event type and filtered against the configured set.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Event types an operator can subscribe to.
const (
	EventReplacementCompleted = "replacement_completed"
	EventReplacementFailed    = "replacement_failed"
	EventAuthFailed           = "auth_failed"
	EventReport               = "report"
	EventLeaseLost            = "lease_lost"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every sender. Notify drops events that are
// not in the allowed set; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, forwarding only events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether an event of this type would be delivered.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers title and message if event is allowed. A nil Notifier
// is a no-op.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyReplacement formats a finished replacement and routes it to the
// completed or failed event.
func (n *Notifier) NotifyReplacement(ctx context.Context, r domain.Replacement) error {
	event := EventReplacementCompleted
	if r.Outcome == domain.OutcomeFailed {
		event = EventReplacementFailed
	}
	title := fmt.Sprintf("%s %s: %s", r.Symbol, r.Strategy, r.Outcome)

	var b strings.Builder
	fmt.Fprintf(&b, "target %.2f at %.4f%% APR\n", r.TargetAmount, domain.DailyToAnnual(r.TargetRate))
	fmt.Fprintf(&b, "filled %.2f\n", r.FilledAmount)
	if len(r.ReplacedIDs) > 0 {
		fmt.Fprintf(&b, "replaced %d borrows\n", len(r.ReplacedIDs))
	}
	if len(r.ReturnedIDs) > 0 {
		fmt.Fprintf(&b, "returned %v\n", r.ReturnedIDs)
	}
	if !r.CompletedAt.IsZero() && !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, "took %s", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return n.Notify(ctx, event, title, strings.TrimRight(b.String(), "\n"))
}

// postJSON sends payload to url and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, name, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, string(respBody))
	}
	return nil
}
