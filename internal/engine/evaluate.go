package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/amount"
	"github.com/xela07ax/spaceai-policy-runtime/internal/audit"
	"github.com/xela07ax/spaceai-policy-runtime/internal/counter"
	"github.com/xela07ax/spaceai-policy-runtime/internal/denom"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
	"github.com/xela07ax/spaceai-policy-runtime/internal/policy"
)

// Evaluate принимает решение по интенту. Нарушения правил — это deny, не ошибка;
// ошибка возвращается только без политики или при недоступном хранилище счётчиков.
func (e *Engine) Evaluate(ctx context.Context, intent domain.Intent, now int64) (domain.Decision, error) {
	start := time.Now()
	snap := e.state.Load()
	if snap == nil {
		return domain.Decision{}, ErrPolicyNotLoaded
	}

	ev := &evaluation{snap: snap, intent: intent, now: now}
	decision, err := e.decide(ctx, ev)
	if err != nil {
		e.logger.Error("evaluate failed", zap.Error(err), zap.String("trace_id", TraceID(ctx)))
		return domain.Decision{}, err
	}

	e.metrics.ObserveDecision(decision, time.Since(start))
	if decision.Allowed() {
		e.allowed.Add(1)
	} else {
		e.denied.Add(1)
	}
	paused := snap.policy.Pause
	e.log(ctx, audit.Entry{
		Type:           audit.EntryDecision,
		TS:             now,
		PolicyHash:     snap.fingerprint,
		OpID:           policy.OpID(snap.fingerprint, intent),
		Decision:       decision.Action,
		Reasons:        decision.Reasons,
		Paused:         &paused,
		Counters:       ev.counters(),
		Headroom:       decision.Headroom,
		TargetHeadroom: decision.TargetHeadroom,
		Intent:         intent,
	})
	if !decision.Allowed() {
		e.logger.Info("intent denied",
			zap.Strings("reasons", decision.Reasons),
			zap.String("to", intent.To),
			zap.String("selector", intent.Selector),
			zap.String("trace_id", TraceID(ctx)),
		)
	}
	return decision, nil
}

// evaluation — состояние одной оценки, нужно для записи в аудит.
type evaluation struct {
	snap   *snapshot
	intent domain.Intent
	now    int64

	h1Used, d1Used   *big.Int
	perFnH1, perFnD1 *int64
}

func (ev *evaluation) counters() *domain.Counters {
	c := &domain.Counters{PerFnH1Used: ev.perFnH1, PerFnD1Used: ev.perFnD1}
	if ev.h1Used != nil {
		c.H1Used = ev.h1Used.String()
	}
	if ev.d1Used != nil {
		c.D1Used = ev.d1Used.String()
	}
	if *c == (domain.Counters{}) {
		return nil
	}
	return c
}

func (e *Engine) decide(ctx context.Context, ev *evaluation) (domain.Decision, error) {
	p := ev.snap.policy

	// Ранние проверки: первая сработавшая причина — единственная.
	if p.Pause {
		return domain.Deny(domain.ReasonPaused), nil
	}
	if reason := e.risk.Check(p, ev.intent, ev.now); reason != "" {
		return domain.Deny(reason), nil
	}
	to, selector, ok := canonicalTarget(ev.intent)
	if !ok || !p.Allows(ev.intent.ChainID, to, selector) {
		return domain.Deny(domain.ReasonNotAllowlisted), nil
	}

	denomination := ev.intent.Denomination
	if denomination == "" {
		denomination = p.DefaultDenom(denom.DefaultSymbol)
	}
	amt, err := resolveAmount(ev.intent.Amount, ev.intent.AmountHuman, denomination, ev.snap)
	if err != nil {
		return domain.Deny(amountReason(err)), nil
	}

	if p.Caps == nil {
		return domain.Decision{Action: domain.ActionAllow, Reasons: []string{}, Headroom: &domain.Headroom{}}, nil
	}
	return e.checkCaps(ctx, ev, p.Caps, to, selector, denomination, amt)
}

// checkCaps проверяет все настроенные лимиты и копит причины, не прерываясь на первой.
func (e *Engine) checkCaps(ctx context.Context, ev *evaluation, caps *domain.CapsConfig, to, selector, denomination string, amt *big.Int) (domain.Decision, error) {
	fp := ev.snap.fingerprint
	reasons := []string{}
	headroom := &domain.Headroom{}
	target := &domain.TargetHeadroom{}

	outflow := func(cfg *domain.CapAmount, window string, windowMs int64, reason string) (*big.Int, string, error) {
		if cfg == nil {
			return nil, "", nil
		}
		limit, ok := cfg.For(denomination)
		if !ok {
			return nil, "", nil
		}
		w, err := e.store.GetWindow(ctx, outflowKey(fp, denomination, window), windowMs, ev.now)
		if err != nil {
			return nil, "", err
		}
		used := new(big.Int).Add(w.Used, amt)
		if used.Cmp(limit) > 0 {
			reasons = append(reasons, reason)
		}
		return used, new(big.Int).Sub(limit, used).String(), nil
	}

	var err error
	if ev.h1Used, headroom.H1, err = outflow(caps.MaxOutflowH1, suffixH1, counter.HourMs, domain.ReasonCapH1Exceeded); err != nil {
		return domain.Decision{}, err
	}
	if ev.d1Used, headroom.D1, err = outflow(caps.MaxOutflowD1, suffixD1, counter.DayMs, domain.ReasonCapD1Exceeded); err != nil {
		return domain.Decision{}, err
	}

	calls := func(limit *int64, window string, windowMs int64, reason string) (*int64, *int64, error) {
		if limit == nil {
			return nil, nil, nil
		}
		w, err := e.store.GetWindow(ctx, functionKey(fp, selector, window), windowMs, ev.now)
		if err != nil {
			return nil, nil, err
		}
		used := w.Used.Int64() + 1
		if used > *limit {
			reasons = append(reasons, reason)
		}
		remaining := max(*limit-used, 0)
		return &used, &remaining, nil
	}

	if ev.perFnH1, headroom.PerFnH1, err = calls(caps.MaxCallsPerFunctionH1, suffixH1, counter.HourMs, domain.ReasonCapPerFunctionH1); err != nil {
		return domain.Decision{}, err
	}
	if ev.perFnD1, headroom.PerFnD1, err = calls(caps.MaxCallsPerFunctionD1, suffixD1, counter.DayMs, domain.ReasonCapPerFunctionD1); err != nil {
		return domain.Decision{}, err
	}

	perTarget := func(m map[string]domain.CapAmount, window string, windowMs int64, reason string) (*domain.TargetHeadroomDetail, error) {
		match, ok := matchTarget(m, to, selector, denomination)
		if !ok {
			return nil, nil
		}
		w, err := e.store.GetWindow(ctx, targetKey(fp, match.scope, window), windowMs, ev.now)
		if err != nil {
			return nil, err
		}
		used := new(big.Int).Add(w.Used, amt)
		if used.Cmp(match.limit) > 0 {
			reasons = append(reasons, reason)
		}
		return &domain.TargetHeadroomDetail{Key: match.key, Remaining: new(big.Int).Sub(match.limit, used).String()}, nil
	}

	if caps.PerTarget != nil {
		if target.H1, err = perTarget(caps.PerTarget.H1, suffixH1, counter.HourMs, domain.ReasonCapTargetH1Exceeded); err != nil {
			return domain.Decision{}, err
		}
		if target.D1, err = perTarget(caps.PerTarget.D1, suffixD1, counter.DayMs, domain.ReasonCapTargetD1Exceeded); err != nil {
			return domain.Decision{}, err
		}
	}
	if target.Empty() {
		target = nil
	}

	if len(reasons) > 0 {
		return domain.Decision{Action: domain.ActionDeny, Reasons: reasons, TargetHeadroom: target}, nil
	}
	return domain.Decision{Action: domain.ActionAllow, Reasons: reasons, Headroom: headroom, TargetHeadroom: target}, nil
}

// resolveAmount переводит сумму интента в base units.
// Явная base-сумма в приоритете; human, если задан вместе с ней, обязан совпасть.
func resolveAmount(base, human, denomination string, snap *snapshot) (*big.Int, error) {
	var fromHuman *big.Int
	if human != "" {
		info := denom.Resolve(denomination, snap.policy.LegacyDenominations(), snap.registry)
		v, err := amount.HumanToBaseUnits(human, info.Decimals)
		if err != nil {
			return nil, err
		}
		fromHuman = v
	}

	if base != "" {
		v, err := amount.ParseBaseUnits(base)
		if err != nil {
			return nil, err
		}
		if fromHuman != nil && fromHuman.Cmp(v) != 0 {
			return nil, fmt.Errorf("%w: %s != %s", ErrAmountMismatch, v, fromHuman)
		}
		return v, nil
	}
	if fromHuman != nil {
		return fromHuman, nil
	}
	return nil, ErrAmountRequired
}

func amountReason(err error) string {
	switch {
	case errors.Is(err, ErrAmountRequired):
		return domain.ReasonAmountRequired
	case errors.Is(err, ErrAmountMismatch):
		return domain.ReasonAmountMismatch
	case errors.Is(err, amount.ErrPrecisionExceeded):
		return domain.ReasonAmountPrecision
	default:
		return domain.ReasonBadAmount
	}
}
