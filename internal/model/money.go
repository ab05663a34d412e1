package model

import "math"

// ToCents переводит денежную сумму в целое число копеек с округлением.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromCents переводит сумму в копейках обратно в денежную сумму.
func FromCents(cents int64) float64 {
	return float64(cents) / 100
}
