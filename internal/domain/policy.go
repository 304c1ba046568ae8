package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// AllowEntry — разрешённая цель вызова. Адрес и селектор хранятся в lowercase.
type AllowEntry struct {
	ChainID  int64  `json:"chainId"`
	To       string `json:"to"`
	Selector string `json:"selector"`
}

// Policy — нормализованная политика допуска транзакций.
// После валидации не мутирует: смена pause создаёт копию (см. WithPause).
type Policy struct {
	Allowlist []AllowEntry `json:"allowlist"`
	Caps      *CapsConfig  `json:"caps,omitempty"`
	Pause     bool         `json:"pause,omitempty"`
	Meta      *PolicyMeta  `json:"meta,omitempty"`
}

// CapsConfig — все настраиваемые измерения лимитов.
// Устаревшее имя max_per_function_h1 сворачивается нормализатором в MaxCallsPerFunctionH1.
type CapsConfig struct {
	MaxOutflowH1          *CapAmount     `json:"max_outflow_h1,omitempty"`
	MaxOutflowD1          *CapAmount     `json:"max_outflow_d1,omitempty"`
	MaxCallsPerFunctionH1 *int64         `json:"max_calls_per_function_h1,omitempty"`
	MaxCallsPerFunctionD1 *int64         `json:"max_calls_per_function_d1,omitempty"`
	PerTarget             *PerTargetCaps `json:"per_target,omitempty"`
}

// PerTargetCaps: ключ — адрес `to` или составной `to|selector`.
type PerTargetCaps struct {
	H1 map[string]CapAmount `json:"h1,omitempty"`
	D1 map[string]CapAmount `json:"d1,omitempty"`
}

// PolicyMeta — необязательные параметры политики.
type PolicyMeta struct {
	SchemaVersion       string               `json:"schemaVersion,omitempty"`
	DefaultDenomination string               `json:"defaultDenomination,omitempty"`
	Denominations       map[string]DenomInfo `json:"denominations,omitempty"`
	TokensRegistryPath  string               `json:"tokens_registry_path,omitempty"`
	NonceMaxGap         *int64               `json:"nonce_max_gap,omitempty"`
	SlippageMaxBps      *int64               `json:"slippage_max_bps,omitempty"`
}

// DenomInfo — сведения о деноминации: число знаков и, опционально, где живёт токен.
type DenomInfo struct {
	Decimals int    `json:"decimals"`
	ChainID  *int64 `json:"chainId,omitempty"`
	Address  string `json:"address,omitempty"`
}

// CapAmount — sum type лимита: либо Legacy (одно число в base units для любой деноминации),
// либо PerDenom (символ -> base units). Ровно одно из полей не nil.
type CapAmount struct {
	Legacy   *big.Int
	PerDenom map[string]*big.Int
}

// LegacyCap и PerDenomCap — конструкторы для тестов и CLI.
func LegacyCap(v *big.Int) CapAmount { return CapAmount{Legacy: v} }

func PerDenomCap(m map[string]*big.Int) CapAmount { return CapAmount{PerDenom: m} }

// For возвращает лимит для деноминации; false, если лимит для неё не задан.
func (c CapAmount) For(denom string) (*big.Int, bool) {
	if c.Legacy != nil {
		return c.Legacy, true
	}
	v, ok := c.PerDenom[denom]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (c CapAmount) MarshalJSON() ([]byte, error) {
	if c.Legacy != nil {
		return json.Marshal(c.Legacy.String())
	}
	m := make(map[string]string, len(c.PerDenom))
	for k, v := range c.PerDenom {
		if v == nil {
			continue
		}
		m[k] = v.String()
	}
	return json.Marshal(m)
}

// UnmarshalJSON принимает только нормализованную форму: значения — целые в base units.
func (c *CapAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() < 0 {
			return fmt.Errorf("cap amount %q is not a base-unit integer", s)
		}
		*c = CapAmount{Legacy: v}
		return nil
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("cap amount must be a string or a denomination map: %w", err)
	}
	out := make(map[string]*big.Int, len(raw))
	for k, s := range raw {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() < 0 {
			return fmt.Errorf("cap amount %s=%q is not a base-unit integer", k, s)
		}
		out[k] = v
	}
	*c = CapAmount{PerDenom: out}
	return nil
}

// Denominations — отсортированный список символов, для которых задан лимит.
func (c CapAmount) Denominations() []string {
	keys := make([]string, 0, len(c.PerDenom))
	for k := range c.PerDenom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Allows проверяет точное совпадение кортежа (chainId, to, selector).
// to и selector должны быть уже приведены к lowercase.
func (p *Policy) Allows(chainID int64, to, selector string) bool {
	for _, e := range p.Allowlist {
		if e.ChainID == chainID && e.To == to && e.Selector == selector {
			return true
		}
	}
	return false
}

// WithPause возвращает копию политики с новым флагом pause. Остальные поля разделяются.
func (p *Policy) WithPause(paused bool) *Policy {
	cp := *p
	cp.Pause = paused
	return &cp
}

// DefaultDenom — деноминация по умолчанию из meta или fallback.
func (p *Policy) DefaultDenom(fallback string) string {
	if p.Meta != nil && p.Meta.DefaultDenomination != "" {
		return p.Meta.DefaultDenomination
	}
	return fallback
}

// LegacyDenominations — таблица деноминаций из meta, nil если не задана.
func (p *Policy) LegacyDenominations() map[string]DenomInfo {
	if p.Meta == nil {
		return nil
	}
	return p.Meta.Denominations
}
