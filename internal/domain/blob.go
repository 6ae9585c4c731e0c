package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies settlement records to cold storage.
type Archiver interface {
	// ArchiveReceipts writes every receipt created in the calendar month
	// containing month and returns the number written.
	ArchiveReceipts(ctx context.Context, month time.Time) (int64, error)
	// ArchiveAudit writes audit entries created before the cutoff.
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
	// ExportStatement writes an investor's receipts and returns the object path.
	ExportStatement(ctx context.Context, investorID string) (string, error)
}
