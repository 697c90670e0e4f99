package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 64 * 1024 * 1024
)

// AuditSource lists audit entries for archival.
type AuditSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// Archiver implements domain.Archiver. It serializes records created before
// a cutoff to JSONL and uploads them to archive/<kind>/YYYY-MM.jsonl. Rows
// are never deleted from the primary store here.
type Archiver struct {
	writer    domain.BlobWriter
	audit     AuditSource
	proposals domain.ProposalLister
	log       domain.AuditStore
}

// NewArchiver creates an Archiver. log receives one entry per upload and may
// be nil.
func NewArchiver(writer domain.BlobWriter, audit AuditSource, proposals domain.ProposalLister, log domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, audit: audit, proposals: proposals, log: log}
}

// archivedProposal is the JSONL shape of a proposal.
type archivedProposal struct {
	ID          uint64    `json:"id"`
	MarketID    uint64    `json:"market_id"`
	CreatedAt   time.Time `json:"created_at"`
	Creator     string    `json:"creator"`
	StableToken string    `json:"stable_token"`
	YesToken    string    `json:"yes_token"`
	NoToken     string    `json:"no_token"`
	Vault       string    `json:"vault"`
	Payload     []byte    `json:"payload,omitempty"`
}

type archivedAudit struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ArchiveAudit uploads audit entries created before the cutoff and returns
// how many were written.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	records := make([]archivedAudit, 0, len(entries))
	for _, e := range entries {
		records = append(records, archivedAudit{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt.UTC()})
	}
	return upload(ctx, a, "audit", before, records)
}

// ArchiveProposals uploads proposals created before the cutoff and returns
// how many were written.
func (a *Archiver) ArchiveProposals(ctx context.Context, before time.Time) (int64, error) {
	proposals, err := a.proposals.ListProposalsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive proposals query: %w", err)
	}
	records := make([]archivedProposal, 0, len(proposals))
	for _, p := range proposals {
		records = append(records, archivedProposal{
			ID:          p.ID,
			MarketID:    p.MarketID,
			CreatedAt:   p.CreatedAt.UTC(),
			Creator:     p.Creator.Hex(),
			StableToken: string(p.StableToken),
			YesToken:    string(p.YesToken),
			NoToken:     string(p.NoToken),
			Vault:       p.Vault.Hex(),
			Payload:     p.Payload,
		})
	}
	return upload(ctx, a, "proposals", before, records)
}

func upload[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	key := archivePath(kind, before)
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if a.log != nil {
		if err := a.log.Log(ctx, "archive."+kind, map[string]any{
			"path":   key,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// archivePath partitions archive files by the cutoff's year and month, e.g.
// archive/proposals/2026-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes one compact JSON document per line.
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

var _ domain.Archiver = (*Archiver)(nil)
