package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// Archiver copies settlement receipts and old audit entries to cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run archives the receipts of the previous and current month and the audit
// entries older than the retention window.
func (a *Archiver) Run(ctx context.Context) error {
	now := a.now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	cutoff := now.Add(-time.Duration(a.retentionDays) * 24 * time.Hour)

	var receipts int64
	for _, month := range []time.Time{thisMonth.AddDate(0, -1, 0), thisMonth} {
		n, err := a.blobArchiver.ArchiveReceipts(ctx, month)
		if err != nil {
			return fmt.Errorf("archiving receipts for %s: %w", month.Format("2006-01"), err)
		}
		receipts += n
	}

	audit, err := a.blobArchiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("receipts_archived", receipts),
		slog.Int64("audit_archived", audit),
		slog.Time("audit_cutoff", cutoff),
	)
	return nil
}
