// Package notify delivers settlement alerts to operator channels. Alerts are
// filtered by event type and throttled per event so a sweeper pass over many
// stale requests cannot flood a chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/fundsettle/internal/config"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Severity drives how a sender renders an alert.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Alert is a rendered notification.
type Alert struct {
	Event    string
	Severity Severity
	Title    string
	Message  string
}

// severities maps settlement event types to a severity. Unknown events are
// informational.
var severities = map[string]Severity{
	"withdrawal_failed":  SeverityCritical,
	"liquidation_failed": SeverityWarning,
	"withdrawal_stale":   SeverityWarning,
	"error":              SeverityCritical,
}

// SeverityOf returns the severity assigned to event.
func SeverityOf(event string) Severity {
	return severities[event]
}

// Notifier fans alerts out to every sender. Notify applies the event filter
// and throttle; NotifyAll bypasses both.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    time.Duration
	burst    int
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithThrottle allows burst alerts per event type, refilling one every
// interval. A zero interval disables throttling.
func WithThrottle(interval time.Duration, burst int) Option {
	return func(n *Notifier) {
		n.every = interval
		n.burst = max(burst, 1)
	}
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		senders:  senders,
		events:   allowed,
		logger:   logger.With(slog.String("component", "notifier")),
		limiters: make(map[string]*rate.Limiter),
		every:    time.Minute,
		burst:    5,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// FromConfig builds a Notifier with a sender for every configured channel.
// With no channels configured the Notifier is a no-op.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger, opts ...Option) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return NewNotifier(senders, cfg.Events, logger, opts...)
}

// Senders returns the names of the configured senders.
func (n *Notifier) Senders() []string {
	names := make([]string, len(n.senders))
	for i, s := range n.senders {
		names[i] = s.Name()
	}
	return names
}

// Notify delivers an alert when event passes the filter and throttle.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if !n.allow(event) {
		n.logger.WarnContext(ctx, "alert throttled",
			slog.String("event", event),
			slog.String("title", title),
		)
		return nil
	}
	return n.dispatch(ctx, Alert{Event: event, Severity: SeverityOf(event), Title: title, Message: message})
}

// NotifyAll delivers an alert unconditionally.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, Alert{Event: "broadcast", Title: title, Message: message})
}

func (n *Notifier) allow(event string) bool {
	if n.every <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	lim, ok := n.limiters[event]
	if !ok {
		lim = rate.NewLimiter(rate.Every(n.every), n.burst)
		n.limiters[event] = lim
	}
	return lim.Allow()
}

// dispatch sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, alert Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", alert.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", alert.Event),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
