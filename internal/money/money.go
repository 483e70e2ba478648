// Пакет money форматирует денежные суммы.
// Все суммы хранятся и передаются целыми числами в минорных единицах
// (копейках). Перевод в строку с двумя знаками выполняется разрезанием
// строки, без плавающей точки, чтобы исключить ошибки округления.
package money

import (
	"errors"
	"strconv"
	"strings"
)

var ErrBadAmount = errors.New("bad money amount")

// Format переводит сумму в минорных единицах в строку вида "1234.56"
func Format(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}

	s := strconv.FormatInt(minor, 10)
	if len(s) < 3 {
		s = strings.Repeat("0", 3-len(s)) + s
	}

	out := s[:len(s)-2] + "." + s[len(s)-2:]
	if neg {
		out = "-" + out
	}
	return out
}

// Parse разбирает строку вида "1234.56" обратно в минорные единицы.
// Дробная часть длиннее двух знаков отбрасывается без округления
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrBadAmount
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole = s[:i]
		frac = s[i+1:]
	}
	if whole == "" && frac == "" { // "-", "." - цифр нет
		return 0, ErrBadAmount
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	minor, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, ErrBadAmount
	}
	if neg {
		minor = -minor
	}
	return minor, nil
}
