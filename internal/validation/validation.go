// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	voucherCodeRe = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{2,31}$`)
	usernameRe    = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)
)

const (
	// MinPasswordLength задаёт минимальную длину пароля.
	MinPasswordLength = 6
	// MaxPasswordLength задаёт максимальную длину пароля в байтах; bcrypt не принимает более длинные.
	MaxPasswordLength = 72
	// MaxQuantity ограничивает количество ваучеров в одной передаче или продаже.
	MaxQuantity = 100_000
	// MaxStock ограничивает остаток партии.
	MaxStock = 10_000_000
	// MaxPrice ограничивает номинал и цену за единицу.
	MaxPrice = 1_000_000.0
)

// Errors собирает ошибки валидации по полям запроса.
type Errors map[string]string

// Add запоминает ошибку поля; первая ошибка поля сохраняется.
func (e Errors) Add(field, msg string) {
	if _, ok := e[field]; !ok {
		e[field] = msg
	}
}

// Err возвращает nil, если ошибок нет.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e[f]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NormalizeVoucherCode приводит код ваучера к каноническому виду.
func NormalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidVoucherCode проверяет код ваучера: 3-32 символа, латинские заглавные буквы, цифры, '-' и '_'.
func IsValidVoucherCode(code string) bool {
	return voucherCodeRe.MatchString(code)
}

// IsValidUsername проверяет логин: 3-32 символа, латинские буквы, цифры, '_', '.', '-'.
func IsValidUsername(username string) bool {
	return usernameRe.MatchString(username)
}

// IsValidPassword проверяет длину пароля в байтах.
func IsValidPassword(password string) bool {
	return len(password) >= MinPasswordLength && len(password) <= MaxPasswordLength
}

// ParseDate разбирает дату в формате RFC 3339 или YYYY-MM-DD (полночь UTC).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 timestamp or YYYY-MM-DD date: %q", s)
	}
	return t, nil
}
