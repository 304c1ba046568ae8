package engine

import (
	"context"
	"math/big"
	"sort"

	"github.com/xela07ax/spaceai-policy-runtime/internal/counter"
	"github.com/xela07ax/spaceai-policy-runtime/internal/denom"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

// UsageLine — текущее использование одного измерения.
type UsageLine struct {
	Dimension   string `json:"dimension"` // outflow | function | target
	Scope       string `json:"scope"`     // деноминация, селектор или ключ per_target
	Window      string `json:"window"`
	Limit       string `json:"limit"`
	Used        string `json:"used"`
	Remaining   string `json:"remaining"`
	WindowStart int64  `json:"windowStart"`
}

// Usage перечисляет все настроенные измерения активной политики с их счётчиками.
// Для per-function берутся селекторы из allowlist.
func (e *Engine) Usage(ctx context.Context, now int64) ([]UsageLine, error) {
	snap := e.state.Load()
	if snap == nil {
		return nil, ErrPolicyNotLoaded
	}
	caps := snap.policy.Caps
	if caps == nil {
		return nil, nil
	}
	fp := snap.fingerprint
	fallback := snap.policy.DefaultDenom(denom.DefaultSymbol)

	var lines []UsageLine
	add := func(dimension, scope, window, key string, windowMs int64, limit *big.Int) error {
		w, err := e.store.GetWindow(ctx, key, windowMs, now)
		if err != nil {
			return err
		}
		lines = append(lines, UsageLine{
			Dimension:   dimension,
			Scope:       scope,
			Window:      window,
			Limit:       limit.String(),
			Used:        w.Used.String(),
			Remaining:   new(big.Int).Sub(limit, w.Used).String(),
			WindowStart: w.WindowStart,
		})
		return nil
	}

	windows := []struct {
		name      string
		ms        int64
		outflow   *domain.CapAmount
		calls     *int64
		perTarget func() map[string]domain.CapAmount
	}{
		{suffixH1, counter.HourMs, caps.MaxOutflowH1, caps.MaxCallsPerFunctionH1, func() map[string]domain.CapAmount {
			if caps.PerTarget == nil {
				return nil
			}
			return caps.PerTarget.H1
		}},
		{suffixD1, counter.DayMs, caps.MaxOutflowD1, caps.MaxCallsPerFunctionD1, func() map[string]domain.CapAmount {
			if caps.PerTarget == nil {
				return nil
			}
			return caps.PerTarget.D1
		}},
	}

	for _, win := range windows {
		if win.outflow != nil {
			for _, d := range capDenominations(*win.outflow, fallback) {
				limit, _ := win.outflow.For(d)
				if err := add("outflow", d, win.name, outflowKey(fp, d, win.name), win.ms, limit); err != nil {
					return nil, err
				}
			}
		}
		if win.calls != nil {
			limit := big.NewInt(*win.calls)
			for _, sel := range allowlistSelectors(snap.policy) {
				if err := add("function", sel, win.name, functionKey(fp, sel, win.name), win.ms, limit); err != nil {
					return nil, err
				}
			}
		}
		targets := win.perTarget()
		keys := make([]string, 0, len(targets))
		for k := range targets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c := targets[k]
			for _, d := range capDenominations(c, fallback) {
				limit, _ := c.For(d)
				if err := add("target", k+" "+d, win.name, targetKey(fp, targetScope(k, d), win.name), win.ms, limit); err != nil {
					return nil, err
				}
			}
		}
	}
	return lines, nil
}

// capDenominations — символы, под которыми лимит реально учитывается.
func capDenominations(c domain.CapAmount, fallback string) []string {
	if c.Legacy != nil {
		return []string{fallback}
	}
	return c.Denominations()
}

func allowlistSelectors(p *domain.Policy) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range p.Allowlist {
		if !seen[e.Selector] {
			seen[e.Selector] = true
			out = append(out, e.Selector)
		}
	}
	sort.Strings(out)
	return out
}

