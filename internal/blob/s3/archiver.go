package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/metrics"
)

const jsonlContentType = "application/x-ndjson"

// Archive kinds, used in object paths, audit events and metric labels.
const (
	KindTransactions = "transactions"
	KindAudit        = "audit"
)

var (
	_ domain.BlobWriter = (*Writer)(nil)
	_ domain.BlobReader = (*Reader)(nil)
	_ domain.Archiver   = (*Archiver)(nil)
)

// Archiver implements domain.Archiver. It reads rows older than a cutoff
// through the unit of work, serializes them to JSONL and uploads the file to
// archive/<kind>/YYYY-MM.jsonl.
//
// Archived rows are not deleted from the primary store; pruning is a
// separate step taken after the archive has been verified.
type Archiver struct {
	uow     domain.UnitOfWork
	writer  domain.BlobWriter
	reader  domain.BlobReader
	metrics *metrics.Metrics
	logger  *slog.Logger

	// multipartAbove switches uploads to PutMultipart for larger payloads.
	multipartAbove int
}

// NewArchiver creates an Archiver. m may be nil.
func NewArchiver(uow domain.UnitOfWork, writer domain.BlobWriter, reader domain.BlobReader, m *metrics.Metrics, logger *slog.Logger) *Archiver {
	return &Archiver{
		uow:            uow,
		writer:         writer,
		reader:         reader,
		metrics:        m,
		logger:         logger.With(slog.String("component", "archiver")),
		multipartAbove: int(minPartSize),
	}
}

// ArchiveTransactions archives journal entries created before the cutoff.
func (a *Archiver) ArchiveTransactions(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, KindTransactions, before, func(ctx context.Context, tx domain.Tx) ([]domain.Transaction, error) {
		return tx.Transactions().ListBefore(ctx, before)
	})
}

// ArchiveAudit archives audit entries created before the cutoff.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, KindAudit, before, func(ctx context.Context, tx domain.Tx) ([]domain.AuditEntry, error) {
		return tx.Audit().ListBefore(ctx, before)
	})
}

// archive uploads one kind. An object already at the target path means the
// period was archived by an earlier run, and nothing is written.
func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, load func(context.Context, domain.Tx) ([]T, error)) (int64, error) {
	path := archivePath(kind, before)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if exists {
		a.logger.InfoContext(ctx, "archive already present", slog.String("path", path))
		return 0, nil
	}

	var rows []T
	if err := a.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		rows, err = load(ctx, tx)
		return err
	}); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if len(buf) > a.multipartAbove {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(rows))
	a.metrics.ObserveArchive(kind, count)

	if err := a.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Audit().Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		})
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}

	a.logger.InfoContext(ctx, "archived",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff.
//
//	archive/transactions/2025-01.jsonl
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
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
