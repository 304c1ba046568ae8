package risk

import (
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

// Analyzer — ранние риск-фильтры интента: дедлайн, nonce, проскальзывание.
// Каждая проверка активна, только если и политика, и интент дают нужные поля.
type Analyzer struct {
	logger *zap.Logger
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("analyzer")}
}

// Check возвращает код первой сработавшей причины или "" если интент проходит.
// Порядок фиксирован: DEADLINE_EXPIRED, NONCE_*, SLIPPAGE_EXCEEDED.
func (a *Analyzer) Check(p *domain.Policy, intent domain.Intent, now int64) string {
	if intent.DeadlineMs != nil && now > *intent.DeadlineMs {
		a.logger.Debug("deadline expired", zap.Int64("deadline_ms", *intent.DeadlineMs), zap.Int64("now", now))
		return domain.ReasonDeadlineExpired
	}

	var meta domain.PolicyMeta
	if p.Meta != nil {
		meta = *p.Meta
	}

	if meta.NonceMaxGap != nil && intent.Nonce != nil && intent.PrevNonce != nil {
		nonce, prev := *intent.Nonce, *intent.PrevNonce
		if nonce < prev {
			a.logger.Debug("nonce regression", zap.Int64("nonce", nonce), zap.Int64("prev_nonce", prev))
			return domain.ReasonNonceRegression
		}
		// nonce == prev — допустимая замена транзакции.
		// Разность в uint64: при nonce >= prev она не переполняется.
		if gap := uint64(nonce) - uint64(prev); *meta.NonceMaxGap < 0 || gap > uint64(*meta.NonceMaxGap) {
			a.logger.Debug("nonce gap exceeded", zap.Uint64("gap", gap), zap.Int64("max", *meta.NonceMaxGap))
			return domain.ReasonNonceGapExceeded
		}
	}

	if meta.SlippageMaxBps != nil && intent.SlippageBps != nil && *intent.SlippageBps > *meta.SlippageMaxBps {
		a.logger.Debug("slippage exceeded", zap.Int64("slippage_bps", *intent.SlippageBps), zap.Int64("max", *meta.SlippageMaxBps))
		return domain.ReasonSlippageExceeded
	}
	return ""
}
