package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres and
// in-memory stores satisfy them directly.

// ReceiptArchiveStore provides time-ranged and per-investor receipt reads.
type ReceiptArchiveStore interface {
	// ListBetween returns receipts created in [since, until), oldest first.
	ListBetween(ctx context.Context, since, until time.Time) ([]domain.Receipt, error)
	ListByInvestor(ctx context.Context, investorID string, opts domain.ListOpts) ([]domain.Receipt, error)
}

// AuditArchiveStore provides read access to old audit entries.
type AuditArchiveStore interface {
	// ListBefore returns entries created strictly before the cutoff, oldest
	// first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// ArchiveImpl implements domain.Archiver by serializing settlement records
// to JSONL and uploading them.
//
// Archiving never deletes from the primary store.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	receipts ReceiptArchiveStore
	audit    AuditArchiveStore
	log      domain.AuditStore
	now      func() time.Time
}

// NewArchiver creates a new ArchiveImpl. log records each archive run.
// reader may be nil, in which case closed months are always rewritten.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	receipts ReceiptArchiveStore,
	audit AuditArchiveStore,
	log domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		reader:   reader,
		receipts: receipts,
		audit:    audit,
		log:      log,
		now:      time.Now,
	}
}

// ArchiveReceipts writes every receipt of the calendar month containing
// month to archive/receipts/YYYY-MM.jsonl. A closed month that is already
// archived is skipped and reports zero; the open month is rewritten.
func (a *ArchiveImpl) ArchiveReceipts(ctx context.Context, month time.Time) (int64, error) {
	since, until := monthBounds(month)
	path := archivePath("receipts", since)
	if a.reader != nil && !a.now().Before(until) {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive receipts: %w", err)
		}
		if ok {
			return 0, nil
		}
	}

	receipts, err := a.receipts.ListBetween(ctx, since, until)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts query: %w", err)
	}
	if len(receipts) == 0 {
		return 0, nil
	}

	count := int64(len(receipts))
	if err := putJSONL(ctx, a.writer, path, receipts); err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts: %w", err)
	}
	if err := a.log.Log(ctx, "archive.receipts", map[string]any{
		"path":  path,
		"count": count,
		"month": since.Format("2006-01"),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive receipts audit log: %w", err)
	}
	return count, nil
}

// ArchiveAudit writes audit entries older than the cutoff to
// archive/audit/YYYY-MM.jsonl, partitioned by the cutoff month.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	path := archivePath("audit", before)
	count := int64(len(entries))
	if err := putJSONL(ctx, a.writer, path, entries); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit: %w", err)
	}
	if err := a.log.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

// ExportStatement writes every receipt of an investor, newest first, to
// statements/<investor>.jsonl and returns the path.
func (a *ArchiveImpl) ExportStatement(ctx context.Context, investorID string) (string, error) {
	receipts, err := a.receipts.ListByInvestor(ctx, investorID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: statement query %s: %w", investorID, err)
	}
	if len(receipts) == 0 {
		return "", fmt.Errorf("s3blob: statement %s: %w", investorID, domain.ErrNotFound)
	}

	path := fmt.Sprintf("statements/%s.jsonl", investorID)
	if err := putJSONL(ctx, a.writer, path, receipts); err != nil {
		return "", fmt.Errorf("s3blob: statement %s: %w", investorID, err)
	}
	return path, nil
}

// putJSONL marshals records as JSONL and uploads them to path, switching to
// a multipart upload above the minimum part size.
func putJSONL[T any](ctx context.Context, w domain.BlobWriter, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if int64(len(buf)) > minPartSize {
		err = w.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = w.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// monthBounds returns [first instant of month, first instant of next month)
// in UTC.
func monthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// archivePath builds the key for an archive file, partitioned by year-month:
//
//	archive/receipts/2026-01.jsonl
//	archive/audit/2026-01.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.UTC().Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
