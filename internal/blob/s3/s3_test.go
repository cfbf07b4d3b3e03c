package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

type memBlob struct {
	objects map[string]string
	types   map[string]string
	err     error
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string]string{}
		m.types = map[string]string{}
	}
	m.objects[path] = buf.String()
	m.types[path] = contentType
	return nil
}

type memAudit struct {
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveWritesJSONL(t *testing.T) {
	blob := &memBlob{}
	audit := &memAudit{}
	a := NewArchiver(blob, audit)

	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	records := []any{
		map[string]any{"n": 1, "s": "<a>"},
		map[string]any{"n": 2},
	}
	path, err := a.Archive(context.Background(), "reports", "fUSD", at, records)
	require.NoError(t, err)
	require.Equal(t, "archive/reports/fUSD/2026/01/02/1767312000.jsonl", path)

	lines := strings.Split(strings.TrimSpace(blob.objects[path]), "\n")
	require.Len(t, lines, 2)
	require.JSONEq(t, `{"n":1,"s":"<a>"}`, lines[0])
	require.Contains(t, lines[0], "<a>", "html is not escaped")
	require.Equal(t, "application/x-ndjson", blob.types[path])
	require.Equal(t, []string{"archive.reports"}, audit.events)
}

func TestArchiveEmptyAndErrors(t *testing.T) {
	blob := &memBlob{}
	a := NewArchiver(blob, nil)

	path, err := a.Archive(context.Background(), "reports", "fUSD", time.Now(), nil)
	require.NoError(t, err)
	require.Empty(t, path)
	require.Empty(t, blob.objects)

	boom := errors.New("boom")
	a = NewArchiver(&memBlob{err: boom}, nil)
	_, err = a.Archive(context.Background(), "reports", "fUSD", time.Now(), []any{1})
	require.ErrorIs(t, err, boom)
}

func TestNormaliseEndpoint(t *testing.T) {
	require.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	require.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	require.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	require.Error(t, err)
}
