package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// Archiver implements domain.SettlementArchiver. Each settlement produces a
// JSON report and a JSONL dump of the pool's wagers:
//
//	settlements/{pool}/{unix}.json
//	settlements/{pool}/{unix}-bets.jsonl
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

var _ domain.SettlementArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, audit: audit}
}

// SettlementPrefix is the key prefix holding a pool's reports.
func SettlementPrefix(pool common.Hash) string {
	return "settlements/" + pool.Hex() + "/"
}

// ArchiveSettlement uploads the report and wagers and returns the report path.
func (a *Archiver) ArchiveSettlement(ctx context.Context, s domain.Settlement, bets []domain.Bet) (string, error) {
	base := fmt.Sprintf("%s%d", SettlementPrefix(s.Pool), s.SettledAt.Unix())
	reportPath := base + ".json"
	betsPath := base + "-bets.jsonl"

	report, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal settlement %s: %w", s.Pool.Hex(), err)
	}
	lines, err := marshalJSONL(bets)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal bets %s: %w", s.Pool.Hex(), err)
	}

	if err := a.writer.Put(ctx, betsPath, bytes.NewReader(lines), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive bets: %w", err)
	}
	if err := a.writer.Put(ctx, reportPath, bytes.NewReader(report), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive settlement: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settlement", map[string]any{
			"pool":   s.Pool.Hex(),
			"report": reportPath,
			"bets":   len(bets),
		}); err != nil {
			return reportPath, fmt.Errorf("s3blob: archive settlement audit log: %w", err)
		}
	}
	return reportPath, nil
}

// marshalJSONL encodes records as newline-delimited JSON.
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
