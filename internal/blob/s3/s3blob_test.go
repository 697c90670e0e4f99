package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	fail    error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, key string, data io.Reader, contentType string) error {
	if w.fail != nil {
		return w.fail
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[key] = b
	w.types[key] = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, key string, data io.Reader, _ int64) error {
	return w.Put(ctx, key, data, "multipart")
}

type auditRows []domain.AuditEntry

func (r auditRows) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range r {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

type proposalRows []domain.Proposal

func (r proposalRows) ListProposalsBefore(_ context.Context, before time.Time) ([]domain.Proposal, error) {
	var out []domain.Proposal
	for _, p := range r {
		if p.CreatedAt.Before(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

type auditLog struct{ events []string }

func (l *auditLog) Log(_ context.Context, event string, _ map[string]any) error {
	l.events = append(l.events, event)
	return nil
}
func (l *auditLog) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) { return nil, nil }
func (l *auditLog) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

func lines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestArchiveProposals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rows := proposalRows{
		{ID: 0, MarketID: 4, CreatedAt: cutoff.Add(-time.Hour), Creator: common.HexToAddress("0x0a"), StableToken: "s0", Payload: []byte("p")},
		{ID: 1, MarketID: 4, CreatedAt: cutoff.Add(time.Hour)},
	}
	w := newMemWriter()
	log := &auditLog{}
	a := NewArchiver(w, auditRows{}, rows, log)

	n, err := a.ArchiveProposals(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	obj, ok := w.objects["archive/proposals/2026-02.jsonl"]
	require.True(t, ok)
	assert.Equal(t, contentTypeJSONL, w.types["archive/proposals/2026-02.jsonl"])
	got := lines(t, obj)
	require.Len(t, got, 1)
	assert.EqualValues(t, 4, got[0]["market_id"])
	assert.Equal(t, common.HexToAddress("0x0a").Hex(), got[0]["creator"])
	assert.Equal(t, "s0", got[0]["stable_token"])
	assert.Equal(t, []string{"archive.proposals"}, log.events)
}

func TestArchiveAudit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	rows := auditRows{
		{ID: 1, Event: "deposited", Detail: map[string]any{"amount": 9.0}, CreatedAt: cutoff.Add(-2 * time.Hour)},
		{ID: 2, Event: "claimed", CreatedAt: cutoff.Add(-time.Hour)},
	}
	w := newMemWriter()
	a := NewArchiver(w, rows, proposalRows{}, nil)

	n, err := a.ArchiveAudit(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	got := lines(t, w.objects["archive/audit/2026-03.jsonl"])
	require.Len(t, got, 2)
	assert.Equal(t, "deposited", got[0]["event"])
	assert.Equal(t, "claimed", got[1]["event"])
}

func TestArchiveEmptyAndFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := newMemWriter()
	a := NewArchiver(w, auditRows{}, proposalRows{}, nil)

	n, err := a.ArchiveProposals(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)

	w.fail = errors.New("bucket gone")
	a = NewArchiver(w, auditRows{{ID: 1, Event: "x", CreatedAt: time.Unix(0, 0)}}, proposalRows{}, nil)
	_, err = a.ArchiveAudit(ctx, time.Now())
	require.ErrorContains(t, err, "bucket gone")
}

func TestObjectKeyAndEndpoint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "archive/a.jsonl", (&Client{}).objectKey("archive/a.jsonl"))
	assert.Equal(t, "ledger/prod/archive/a.jsonl", (&Client{prefix: "ledger/prod"}).objectKey("archive/a.jsonl"))

	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	require.Error(t, err)
}
