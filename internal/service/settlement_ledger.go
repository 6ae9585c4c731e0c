package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundsettle/internal/amount"
	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// receiptNamespace scopes receipt ids derived from natural keys.
var receiptNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/alanyoungcy/fundsettle/receipts"))

// ReceiptID derives the deterministic receipt id of a natural key.
func ReceiptID(naturalKey string) string {
	return uuid.NewSHA1(receiptNamespace, []byte(naturalKey)).String()
}

// SettlementLedger is the append-only record of completed withdrawals.
type SettlementLedger struct {
	receipts domain.ReceiptStore
	events   events
	logger   *slog.Logger
}

// NewSettlementLedger creates a SettlementLedger. bus, audit and notifier
// may be nil.
func NewSettlementLedger(
	receipts domain.ReceiptStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Notifier,
	logger *slog.Logger,
) *SettlementLedger {
	logger = logger.With(slog.String("component", "settlement_ledger"))
	return &SettlementLedger{
		receipts: receipts,
		events:   events{bus: bus, audit: audit, notifier: notifier, logger: logger},
		logger:   logger,
	}
}

// Record appends r. Recording a receipt whose natural key already exists is
// a no-op that returns the stored receipt.
func (l *SettlementLedger) Record(ctx context.Context, r domain.Receipt) (domain.Receipt, error) {
	if r.NaturalKey == "" {
		r.NaturalKey = domain.ReceiptNaturalKey(r.PoolID, r.InvestorID, r.FinalizeRef)
	}
	if r.ID == "" {
		r.ID = ReceiptID(r.NaturalKey)
	}

	stored, inserted, err := l.receipts.AppendIfAbsent(ctx, r)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("settlement_ledger: record %s: %w", r.NaturalKey, err)
	}
	if !inserted {
		l.logger.DebugContext(ctx, "receipt already recorded",
			slog.String("receipt_id", stored.ID),
			slog.String("natural_key", stored.NaturalKey),
		)
		return stored, nil
	}

	fields := map[string]any{
		"receipt_id":      stored.ID,
		"request_id":      stored.RequestID,
		"pool_id":         stored.PoolID,
		"investor_id":     stored.InvestorID,
		"shares_burned":   stored.SharesBurned,
		"gross":           stored.Settlement.Gross,
		"net":             stored.Settlement.Net,
		"platform_fee":    stored.Settlement.PlatformFee,
		"performance_fee": stored.Settlement.PerformanceFee,
		"finalize_ref":    stored.FinalizeRef,
	}
	l.events.publish(ctx, domain.ChannelReceipts, EventReceiptRecorded, fields)
	l.events.record(ctx, EventReceiptRecorded, fields)
	l.logger.InfoContext(ctx, "receipt recorded",
		slog.String("receipt_id", stored.ID),
		slog.String("pool_id", stored.PoolID),
		slog.String("investor_id", stored.InvestorID),
		slog.Uint64("net", stored.Settlement.Net),
	)
	return stored, nil
}

// Get returns a receipt by id.
func (l *SettlementLedger) Get(ctx context.Context, id string) (domain.Receipt, error) {
	r, err := l.receipts.GetByID(ctx, id)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("settlement_ledger: get %s: %w", id, err)
	}
	return r, nil
}

// FindByInvestor returns an investor's receipts across pools, newest first.
func (l *SettlementLedger) FindByInvestor(ctx context.Context, investorID string, opts domain.ListOpts) ([]domain.Receipt, error) {
	rs, err := l.receipts.ListByInvestor(ctx, investorID, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_ledger: find by investor %s: %w", investorID, err)
	}
	return rs, nil
}

// FindByPool returns a pool's receipts, newest first.
func (l *SettlementLedger) FindByPool(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.Receipt, error) {
	rs, err := l.receipts.ListByPool(ctx, poolID, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_ledger: find by pool %s: %w", poolID, err)
	}
	return rs, nil
}

// Summary renders a receipt for operator notifications.
func Summary(r domain.Receipt, decimals uint8) string {
	return fmt.Sprintf("pool %s investor %s: gross %s, net %s, platform %s, performance %s (operator %s, treasury %s)",
		r.PoolID, r.InvestorID,
		amount.Format(r.Settlement.Gross, decimals),
		amount.Format(r.Settlement.Net, decimals),
		amount.Format(r.Settlement.PlatformFee, decimals),
		amount.Format(r.Settlement.PerformanceFee, decimals),
		amount.Format(r.Settlement.OperatorShare, decimals),
		amount.Format(r.Settlement.TreasuryShare, decimals),
	)
}
