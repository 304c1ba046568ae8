package policy

/*
Файл validate.go — проверка сырого документа политики.
Структуру проверяет вшитая JSON Schema (schema.json). Проверка не останавливается
на первой ошибке: собираются все нарушения с путём в виде JSON pointer (/allowlist/0/to).
*/

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Ключи per_target, которые нормализация приводит к lowercase.
var (
	addressRe       = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	targetAddrSelRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}\|0x[0-9a-fA-F]{8}$`)
)

// Имена полей caps.
const (
	fieldOutflowH1      = "max_outflow_h1"
	fieldOutflowD1      = "max_outflow_d1"
	fieldPerFunctionOld = "max_per_function_h1" // устаревший алиас max_calls_per_function_h1
	fieldCallsH1        = "max_calls_per_function_h1"
	fieldCallsD1        = "max_calls_per_function_d1"
	fieldPerTarget      = "per_target"
)

// Document — провалидированный документ политики в generic форме.
type Document map[string]any

// Violation — одно нарушение схемы.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError перечисляет все нарушенные пути.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		path := v.Path
		if path == "" {
			path = "/"
		}
		parts = append(parts, path+" "+v.Message)
	}
	return "policy schema invalid: " + strings.Join(parts, "; ")
}

// Paths — список нарушенных путей (удобно в тестах и в ответе API).
func (e *ValidationError) Paths() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Path)
	}
	return out
}

type validator struct {
	violations []Violation
}

func (v *validator) fail(path, format string, args ...any) {
	v.violations = append(v.violations, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) err() error {
	if len(v.violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: v.violations}
}

// Decode разбирает JSON с сохранением чисел как json.Number.
func Decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("policy: decode: trailing data after document")
	}
	return doc, nil
}

// Validate проверяет документ и приводит адреса/селекторы allowlist к lowercase.
func Validate(raw []byte) (Document, error) {
	parsed, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return ValidateValue(parsed)
}

// ValidateValue — то же, что Validate, для уже разобранного значения
// (числа как json.Number). Структуру проверяет JSON Schema, канонизация своя.
func ValidateValue(parsed any) (Document, error) {
	if violations := checkSchema(parsed); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	root, ok := parsed.(map[string]any)
	if !ok {
		return nil, &ValidationError{Violations: []Violation{{Path: "", Message: "must be an object"}}}
	}
	doc := Document(deepCopy(root).(map[string]any))
	canonicalizeAllowlist(doc)
	return doc, nil
}

// canonicalizeAllowlist: адреса и селекторы в lowercase, chainId в целое json.Number.
func canonicalizeAllowlist(doc Document) {
	list, _ := doc["allowlist"].([]any)
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := asInt(entry["chainId"]); ok {
			entry["chainId"] = json.Number(fmt.Sprint(n))
		}
		for _, k := range []string{"to", "selector"} {
			if s, ok := entry[k].(string); ok {
				entry[k] = strings.ToLower(s)
			}
		}
	}
}

// asInt принимает целые json.Number (в т.ч. "3.0") и числа из YAML.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapePointer(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
