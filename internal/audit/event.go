package audit

import (
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

type EntryType string

const (
	EntryDecision  EntryType = "decision"
	EntryExecution EntryType = "execution"
)

// Entry — запись журнала решений. Одна на каждый Evaluate и на каждый RecordExecution.
type Entry struct {
	ID         string    `json:"id"`                 // UUID записи
	TraceID    string    `json:"trace_id,omitempty"` // Сквозной ID запроса
	Type       EntryType `json:"type"`
	TS         int64     `json:"ts"` // epoch ms, тот же now, что видел движок
	PolicyHash string    `json:"policyHash"`

	// Решение
	OpID           string                 `json:"opId,omitempty"` // sha256(policyHash || intent)
	Decision       domain.Action          `json:"decision,omitempty"`
	Reasons        []string               `json:"reasons,omitempty"`
	Paused         *bool                  `json:"paused,omitempty"`
	Counters       *domain.Counters       `json:"counters,omitempty"`
	Headroom       *domain.Headroom       `json:"headroom,omitempty"`
	TargetHeadroom *domain.TargetHeadroom `json:"target_headroom,omitempty"`

	// Исполнение
	TxHash string `json:"txHash,omitempty"`
	Amount string `json:"amount,omitempty"`

	Intent domain.Intent `json:"intent"`
}
