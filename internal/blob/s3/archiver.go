package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Archiver uploads batches of records as JSONL and notes each upload in
// the audit log when one is configured.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, audit: audit}
}

// Archive writes records to archive/<kind>/<symbol>/YYYY/MM/DD/<unix>.jsonl
// and returns the object path. An empty batch is skipped.
func (a *Archiver) Archive(ctx context.Context, kind, symbol string, at time.Time, records []any) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, symbol, at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"symbol": symbol,
			"count":  len(records),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return path, nil
}

// archivePath partitions by day, e.g.
//
//	archive/reports/fUSD/2026/01/02/1767312000.jsonl
func archivePath(kind, symbol string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("archive/%s/%s/%s/%d.jsonl", kind, symbol, at.Format("2006/01/02"), at.Unix())
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL(records []any) ([]byte, error) {
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
