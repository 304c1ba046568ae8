package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-policy-runtime/internal/amount"
	"github.com/xela07ax/spaceai-policy-runtime/internal/denom"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

// RegistryPath — meta.tokens_registry_path, если задан.
func (d Document) RegistryPath() string {
	meta, _ := d["meta"].(map[string]any)
	s, _ := meta["tokens_registry_path"].(string)
	return s
}

// NormalizeAndValidate = Validate + Normalize. Идемпотентна: повторная нормализация
// уже нормализованной политики ничего не меняет.
func NormalizeAndValidate(raw []byte, reg denom.Registry) (*domain.Policy, error) {
	doc, err := Validate(raw)
	if err != nil {
		return nil, err
	}
	return Normalize(doc, reg)
}

// Normalize сворачивает устаревший алиас, переводит human-decimal лимиты в base units
// и приводит адресные ключи per_target к lowercase. Результат — типизированная политика,
// в которой движок видит только целые значения.
func Normalize(doc Document, reg denom.Registry) (*domain.Policy, error) {
	doc = Document(deepCopy(map[string]any(doc)).(map[string]any))
	v := &validator{}

	legacy := legacyTable(doc)
	if caps, ok := doc["caps"].(map[string]any); ok {
		if old, present := caps[fieldPerFunctionOld]; present {
			if _, canonical := caps[fieldCallsH1]; !canonical {
				caps[fieldCallsH1] = old
			}
			delete(caps, fieldPerFunctionOld)
		}
		for _, name := range []string{fieldCallsH1, fieldCallsD1} {
			canonicalInt(caps, name)
		}
		for _, name := range []string{fieldOutflowH1, fieldOutflowD1} {
			if c, present := caps[name]; present {
				caps[name] = v.toBaseUnits("/caps/"+name, c, legacy, reg)
			}
		}
		if pt, ok := caps[fieldPerTarget].(map[string]any); ok {
			for _, window := range []string{"h1", "d1"} {
				targets, ok := pt[window].(map[string]any)
				if !ok {
					continue
				}
				pt[window] = v.targets("/caps/per_target/"+window, targets, legacy, reg)
			}
		}
	}
	if meta, ok := doc["meta"].(map[string]any); ok {
		canonicalInt(meta, "nonce_max_gap")
		canonicalInt(meta, "slippage_max_bps")
		if table, ok := meta["denominations"].(map[string]any); ok {
			for _, info := range table {
				if m, ok := info.(map[string]any); ok {
					canonicalInt(m, "decimals")
					canonicalInt(m, "chainId")
					if a, ok := m["address"].(string); ok {
						m["address"] = strings.ToLower(a)
					}
				}
			}
		}
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("policy: encode normalized: %w", err)
	}
	var p domain.Policy
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, fmt.Errorf("policy: decode normalized: %w", err)
	}
	if p.Allowlist == nil {
		p.Allowlist = []domain.AllowEntry{}
	}
	return &p, nil
}

// targets нормализует одну карту per_target: ключи адресной формы -> lowercase.
func (v *validator) targets(path string, targets map[string]any, legacy map[string]domain.DenomInfo, reg denom.Registry) map[string]any {
	out := make(map[string]any, len(targets))
	for _, key := range sortedKeys(targets) {
		norm := key
		if addressRe.MatchString(key) || targetAddrSelRe.MatchString(key) {
			norm = strings.ToLower(key)
		}
		if _, dup := out[norm]; dup {
			v.fail(path+"/"+escapePointer(key), "duplicates target key %q after canonicalization", norm)
			continue
		}
		out[norm] = v.toBaseUnits(path+"/"+escapePointer(key), targets[key], legacy, reg)
	}
	return out
}

// toBaseUnits: legacy строка проходит как есть, значения с точкой в карте деноминаций
// переводятся через резолвер.
func (v *validator) toBaseUnits(path string, raw any, legacy map[string]domain.DenomInfo, reg denom.Registry) any {
	m, ok := raw.(map[string]any)
	if !ok {
		return raw
	}
	out := make(map[string]any, len(m))
	for _, sym := range sortedKeys(m) {
		s, _ := m[sym].(string)
		if !amount.IsHuman(s) {
			out[sym] = s
			continue
		}
		info := denom.Resolve(sym, legacy, reg)
		n, err := amount.HumanToBaseUnits(s, info.Decimals)
		if err != nil {
			if errors.Is(err, amount.ErrPrecisionExceeded) {
				v.fail(path+"/"+escapePointer(sym), "has more fractional digits than %s decimals (%d)", sym, info.Decimals)
			} else {
				v.fail(path+"/"+escapePointer(sym), "is not a decimal amount")
			}
			continue
		}
		out[sym] = n.String()
	}
	return out
}

// legacyTable — meta.denominations в типизированном виде (для резолвера при нормализации).
func legacyTable(doc Document) map[string]domain.DenomInfo {
	meta, _ := doc["meta"].(map[string]any)
	table, _ := meta["denominations"].(map[string]any)
	if len(table) == 0 {
		return nil
	}
	out := make(map[string]domain.DenomInfo, len(table))
	for sym, raw := range table {
		info, _ := raw.(map[string]any)
		d, ok := asInt(info["decimals"])
		if !ok {
			continue
		}
		out[sym] = domain.DenomInfo{Decimals: int(d)}
	}
	return out
}

func canonicalInt(m map[string]any, key string) {
	if val, present := m[key]; present {
		if n, ok := asInt(val); ok {
			m[key] = json.Number(fmt.Sprint(n))
		}
	}
}
