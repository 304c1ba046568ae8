package engine

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

var (
	addressRe  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	selectorRe = regexp.MustCompile(`^0x[0-9a-fA-F]{8}$`)
)

// Суффиксы окон в ключах счётчиков.
const (
	suffixH1 = "h1"
	suffixD1 = "d1"
)

// Ключи счётчиков, все с префиксом fingerprint: новая политика начинает с нуля.
//
//	<fp>:<denom>:h1                   глобальный отток
//	<fp>:fn:<selector>:h1             вызовы функции
//	<fp>:toSel:<to>|<sel>:<denom>:h1  per_target по паре
//	<fp>:to:<to>:<denom>:h1           per_target по адресу
func outflowKey(fp, denomination, window string) string {
	return fp + ":" + denomination + ":" + window
}

func functionKey(fp, selector, window string) string {
	return fp + ":fn:" + selector + ":" + window
}

func targetKey(fp, scope, window string) string {
	return fp + ":" + scope + ":" + window
}

// canonicalTarget приводит to/selector интента к lowercase; false для невалидной формы.
func canonicalTarget(intent domain.Intent) (to, selector string, ok bool) {
	if !addressRe.MatchString(intent.To) || !selectorRe.MatchString(intent.Selector) {
		return "", "", false
	}
	return strings.ToLower(intent.To), strings.ToLower(intent.Selector), true
}

// targetMatch — сработавший per_target лимит.
type targetMatch struct {
	key   string   // ключ в политике: "to|sel" или "to"
	scope string   // часть ключа счётчика без fp и окна
	limit *big.Int // лимит в base units для деноминации интента
}

// matchTarget ищет per_target лимит: ключ "to|selector" перекрывает "to".
// Если в найденном ключе нет лимита для деноминации интента, лимита нет вовсе.
func matchTarget(caps map[string]domain.CapAmount, to, selector, denomination string) (targetMatch, bool) {
	if len(caps) == 0 {
		return targetMatch{}, false
	}
	key := to + "|" + selector
	c, ok := caps[key]
	if !ok {
		key = to
		if c, ok = caps[key]; !ok {
			return targetMatch{}, false
		}
	}
	limit, ok := c.For(denomination)
	if !ok {
		return targetMatch{}, false
	}
	return targetMatch{key: key, scope: targetScope(key, denomination), limit: limit}, true
}

// targetScope — часть ключа счётчика для ключа per_target из политики.
func targetScope(policyKey, denomination string) string {
	if strings.Contains(policyKey, "|") {
		return "toSel:" + policyKey + ":" + denomination
	}
	return "to:" + policyKey + ":" + denomination
}
