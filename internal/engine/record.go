package engine

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/audit"
	"github.com/xela07ax/spaceai-policy-runtime/internal/counter"
	"github.com/xela07ax/spaceai-policy-runtime/internal/denom"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

var one = big.NewInt(1)

// RecordExecution списывает исполненный интент во все настроенные измерения.
// Лимиты повторно не проверяются: вызывать только после allow.
// Ошибка суммы здесь означает неправильное использование и возвращается вызывающему.
func (e *Engine) RecordExecution(ctx context.Context, exec domain.Execution, now int64) error {
	snap := e.state.Load()
	if snap == nil {
		return ErrPolicyNotLoaded
	}
	p := snap.policy
	intent := exec.Intent

	to, selector, ok := canonicalTarget(intent)
	if !ok {
		return fmt.Errorf("record execution: %w: to=%q selector=%q", ErrBadTarget, intent.To, intent.Selector)
	}
	denomination := intent.Denomination
	if denomination == "" {
		denomination = p.DefaultDenom(denom.DefaultSymbol)
	}

	base, human := intent.Amount, intent.AmountHuman
	if exec.Amount != "" || exec.AmountHuman != "" {
		base, human = exec.Amount, exec.AmountHuman
	}
	amt, err := resolveAmount(base, human, denomination, snap)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}

	fp := snap.fingerprint
	type write struct {
		key      string
		delta    *big.Int
		windowMs int64
	}
	var writes []write
	if caps := p.Caps; caps != nil {
		if caps.MaxOutflowH1 != nil {
			writes = append(writes, write{outflowKey(fp, denomination, suffixH1), amt, counter.HourMs})
		}
		if caps.MaxOutflowD1 != nil {
			writes = append(writes, write{outflowKey(fp, denomination, suffixD1), amt, counter.DayMs})
		}
		if caps.MaxCallsPerFunctionH1 != nil {
			writes = append(writes, write{functionKey(fp, selector, suffixH1), one, counter.HourMs})
		}
		if caps.MaxCallsPerFunctionD1 != nil {
			writes = append(writes, write{functionKey(fp, selector, suffixD1), one, counter.DayMs})
		}
		if caps.PerTarget != nil {
			if m, ok := matchTarget(caps.PerTarget.H1, to, selector, denomination); ok {
				writes = append(writes, write{targetKey(fp, m.scope, suffixH1), amt, counter.HourMs})
			}
			if m, ok := matchTarget(caps.PerTarget.D1, to, selector, denomination); ok {
				writes = append(writes, write{targetKey(fp, m.scope, suffixD1), amt, counter.DayMs})
			}
		}
	}

	// Записи не атомарны: после ошибки уже применённые остаются в силе.
	for _, w := range writes {
		if err := e.store.Add(ctx, w.key, w.delta, w.windowMs, now); err != nil {
			e.logger.Error("counter write failed",
				zap.String("key", w.key),
				zap.String("tx_hash", exec.TxHash),
				zap.Error(err),
			)
			return fmt.Errorf("record execution %s: %w", w.key, err)
		}
	}

	e.metrics.ObserveExecution()
	e.log(ctx, audit.Entry{
		Type:       audit.EntryExecution,
		TS:         now,
		PolicyHash: fp,
		TxHash:     exec.TxHash,
		Amount:     amt.String(),
		Intent:     intent,
	})
	e.logger.Debug("execution recorded",
		zap.String("tx_hash", exec.TxHash),
		zap.String("amount", amt.String()),
		zap.String("denomination", denomination),
		zap.Int("dimensions", len(writes)),
	)
	return nil
}
