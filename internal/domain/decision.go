package domain

import "math/big"

// Action — исход проверки.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	// ActionEscalate зарезервирован под ручное ревью, правилами пока не выдаётся.
	ActionEscalate Action = "escalate"
)

// Коды причин отказа.
const (
	ReasonPaused           = "PAUSED"
	ReasonDeadlineExpired  = "DEADLINE_EXPIRED"
	ReasonNonceRegression  = "NONCE_REGRESSION"
	ReasonNonceGapExceeded = "NONCE_GAP_EXCEEDED"
	ReasonSlippageExceeded = "SLIPPAGE_EXCEEDED"
	ReasonNotAllowlisted   = "NOT_ALLOWLISTED"

	ReasonAmountRequired  = "AMOUNT_REQUIRED"
	ReasonAmountMismatch  = "AMOUNT_MISMATCH"
	ReasonBadAmount       = "BAD_AMOUNT"
	ReasonAmountPrecision = "AMOUNT_PRECISION_EXCEEDED"

	ReasonCapH1Exceeded       = "CAP_H1_EXCEEDED"
	ReasonCapD1Exceeded       = "CAP_D1_EXCEEDED"
	ReasonCapPerFunctionH1    = "CAP_PER_FUNCTION_H1_EXCEEDED"
	ReasonCapPerFunctionD1    = "CAP_PER_FUNCTION_D1_EXCEEDED"
	ReasonCapTargetH1Exceeded = "CAP_TARGET_H1_EXCEEDED"
	ReasonCapTargetD1Exceeded = "CAP_TARGET_D1_EXCEEDED"
)

// Headroom — остаток по глобальным измерениям. Суммы в base units, счётчики не уходят ниже нуля.
type Headroom struct {
	H1      string `json:"h1,omitempty"`
	D1      string `json:"d1,omitempty"`
	PerFnH1 *int64 `json:"per_fn_h1,omitempty"`
	PerFnD1 *int64 `json:"per_fn_d1,omitempty"`
}

// TargetHeadroomDetail — какой ключ per_target сработал и сколько осталось (может быть < 0 при превышении).
type TargetHeadroomDetail struct {
	Key       string `json:"key"`
	Remaining string `json:"remaining"`
}

type TargetHeadroom struct {
	H1 *TargetHeadroomDetail `json:"h1,omitempty"`
	D1 *TargetHeadroomDetail `json:"d1,omitempty"`
}

// Empty — ни одно per_target измерение не сработало.
func (t *TargetHeadroom) Empty() bool {
	return t == nil || (t.H1 == nil && t.D1 == nil)
}

type Decision struct {
	Action         Action          `json:"action"`
	Reasons        []string        `json:"reasons"`
	Headroom       *Headroom       `json:"headroom,omitempty"`
	TargetHeadroom *TargetHeadroom `json:"target_headroom,omitempty"`
}

func (d Decision) Allowed() bool { return d.Action == ActionAllow }

// Deny — отказ с одной причиной (ранние проверки).
func Deny(reason string) Decision {
	return Decision{Action: ActionDeny, Reasons: []string{reason}}
}

// Counters — спроецированное использование, попадает в аудит решения.
type Counters struct {
	H1Used      string `json:"h1_used,omitempty"`
	D1Used      string `json:"d1_used,omitempty"`
	PerFnH1Used *int64 `json:"per_fn_h1_used,omitempty"`
	PerFnD1Used *int64 `json:"per_fn_d1_used,omitempty"`
}

// CounterWindow — накопленное использование в текущем фиксированном окне.
type CounterWindow struct {
	Used        *big.Int `json:"used"`
	WindowStart int64    `json:"windowStart"`
}
