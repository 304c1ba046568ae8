package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-policy-runtime/internal/audit"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS policy_audit (
	id          UUID PRIMARY KEY,
	trace_id    TEXT,
	type        TEXT NOT NULL,
	policy_hash TEXT NOT NULL,
	op_id       TEXT,
	decision    TEXT,
	reasons     JSONB,
	intent      JSONB NOT NULL,
	details     JSONB,
	tx_hash     TEXT,
	amount      NUMERIC(78, 0),
	ts          BIGINT NOT NULL
)`

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

var _ audit.Sink = (*AuditRepo)(nil)

// EnsureSchema создаёт таблицу аудита, если её нет.
func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("postgres: ensure audit schema: %w", err)
	}
	return nil
}

// auditDetails — всё, что считал движок, одной JSONB колонкой.
type auditDetails struct {
	Paused         *bool                  `json:"paused,omitempty"`
	Counters       *domain.Counters       `json:"counters,omitempty"`
	Headroom       *domain.Headroom       `json:"headroom,omitempty"`
	TargetHeadroom *domain.TargetHeadroom `json:"target_headroom,omitempty"`
}

func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице policy_audit
	numFields := 12
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		if i > 0 {
			placeholders.WriteString(",")
		}
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::numeric, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		reasons, err := json.Marshal(e.Reasons)
		if err != nil {
			return fmt.Errorf("postgres: marshal reasons: %w", err)
		}
		intent, err := json.Marshal(e.Intent)
		if err != nil {
			return fmt.Errorf("postgres: marshal intent: %w", err)
		}
		details, err := json.Marshal(auditDetails{
			Paused:         e.Paused,
			Counters:       e.Counters,
			Headroom:       e.Headroom,
			TargetHeadroom: e.TargetHeadroom,
		})
		if err != nil {
			return fmt.Errorf("postgres: marshal details: %w", err)
		}

		vals = append(vals,
			e.ID, nullString(e.TraceID), string(e.Type), e.PolicyHash, nullString(e.OpID),
			nullString(string(e.Decision)), string(reasons), string(intent), string(details),
			nullString(e.TxHash), nullString(e.Amount), e.TS,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO policy_audit (id, trace_id, type, policy_hash, op_id, decision, reasons, intent, details, tx_hash, amount, ts) VALUES %s ON CONFLICT (id) DO NOTHING",
		placeholders.String(),
	)

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: insert audit batch: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
