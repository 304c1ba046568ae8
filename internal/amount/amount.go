package amount

/*
Пакет amount — точное преобразование сумм между base units (целое число минимальных
единиц токена) и human-decimal представлением ("12.5" USDC при 6 знаках).
Вся арифметика на math/big, float не используется нигде.
*/

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrBadAmount — строка не является корректной суммой.
	ErrBadAmount = errors.New("bad amount")
	// ErrPrecisionExceeded — дробная часть длиннее, чем decimals у деноминации.
	ErrPrecisionExceeded = errors.New("amount precision exceeded")
)

// ParseBaseUnits разбирает строку из десятичных цифр. Пустая строка — ноль.
func ParseBaseUnits(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	if !isDigits(s) {
		return nil, fmt.Errorf("%w: %q is not a base-unit integer", ErrBadAmount, s)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	return n, nil
}

// HumanToBaseUnits переводит "123.45" в base units при заданном decimals.
// Принимается только digits(.digits)? — без знака, экспоненты и разделителей тысяч.
func HumanToBaseUnits(s string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative decimals %d", ErrBadAmount, decimals)
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if !isDigits(whole) || (hasDot && !isDigits(frac)) {
		return nil, fmt.Errorf("%w: %q is not a decimal amount", ErrBadAmount, s)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: %q has %d fractional digits, max %d", ErrPrecisionExceeded, s, len(frac), decimals)
	}

	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	return n, nil
}

// FormatHuman — обратное преобразование. Хвостовые нули дробной части отбрасываются,
// "1000000" при 6 знаках даёт "1", а не "1.000000".
func FormatHuman(n *big.Int, decimals int) string {
	if n == nil {
		return "0"
	}
	s := n.String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if decimals > 0 {
		if len(s) <= decimals {
			s = strings.Repeat("0", decimals-len(s)+1) + s
		}
		whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
		s = whole
		if frac != "" {
			s += "." + frac
		}
	}
	if neg {
		s = "-" + s
	}
	return s
}

// IsHuman сообщает, записана ли сумма в human-decimal форме (с точкой).
func IsHuman(s string) bool {
	return strings.Contains(s, ".")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
