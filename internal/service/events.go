package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// Notifier forwards operator alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Notification event types.
const (
	EventWithdrawalInitiated = "withdrawal_initiated"
	EventWithdrawalCompleted = "withdrawal_completed"
	EventWithdrawalFailed    = "withdrawal_failed"
	EventWithdrawalStale     = "withdrawal_stale"
	EventWithdrawalReady     = "withdrawal_ready"
	EventAssetLiquidated     = "asset_liquidated"
	EventLiquidationFailed   = "liquidation_failed"
	EventReceiptRecorded     = "receipt_recorded"
	EventDepositApplied      = "deposit_applied"
	EventNAVSnapshot         = "nav_snapshot"
)

// events fans settlement events out to the bus, the audit log and the
// notifier. Every sink is optional and failures are logged, never returned.
type events struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	logger   *slog.Logger
}

// publish sends {"event": event, ...fields} on channel.
func (e events) publish(ctx context.Context, channel, event string, fields map[string]any) {
	if e.bus == nil {
		return
	}
	msg := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		msg[k] = v
	}
	msg["event"] = event
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(msg)
	if err != nil {
		e.logger.WarnContext(ctx, "marshal event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", event),
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (e events) record(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e events) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
