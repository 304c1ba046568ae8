package denom

import (
	"strings"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

const (
	// DefaultSymbol — деноминация, если ни intent, ни политика её не задали.
	DefaultSymbol = "BASE_USDC"
	// FallbackDecimals — для неизвестных символов.
	FallbackDecimals = 18
)

var baseUSDCChainID int64 = 8453

// BaseUSDC — единственная зашитая деноминация.
var BaseUSDC = domain.DenomInfo{
	Decimals: 6,
	ChainID:  &baseUSDCChainID,
	Address:  "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
}

// Registry — внешний реестр токенов: символ в верхнем регистре -> сведения.
type Registry map[string]domain.DenomInfo

// Resolve определяет число знаков для символа. Первое совпадение выигрывает:
// реестр (по uppercase символу) -> legacy-таблица политики -> BASE_USDC -> 18 знаков.
// Функция чистая, ничего не кэширует.
func Resolve(symbol string, legacy map[string]domain.DenomInfo, reg Registry) domain.DenomInfo {
	if symbol == "" {
		symbol = DefaultSymbol
	}
	if info, ok := reg[strings.ToUpper(symbol)]; ok {
		return info
	}
	if info, ok := legacy[symbol]; ok {
		return info
	}
	if symbol == DefaultSymbol {
		return BaseUSDC
	}
	return domain.DenomInfo{Decimals: FallbackDecimals}
}
