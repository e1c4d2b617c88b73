package domain

import "strings"

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {},
	"MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {},
	"XOF": {}, "XPF": {},
}

// CurrencyExponent is the number of decimal places of the ISO 4217 minor unit.
func CurrencyExponent(currency string) int {
	if _, ok := zeroDecimalCurrencies[NormalizeCurrency(currency)]; ok {
		return 0
	}
	return 2
}

func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ToMajor converts minor units to a decimal amount, e.g. 1050 USD → 10.5.
func ToMajor(amount int64, currency string) float64 {
	value := float64(amount)
	for i := 0; i < CurrencyExponent(currency); i++ {
		value /= 10
	}
	return value
}

// FromMajor converts a decimal amount reported by a network back to minor units.
func FromMajor(amount float64, currency string) int64 {
	for i := 0; i < CurrencyExponent(currency); i++ {
		amount *= 10
	}
	if amount < 0 {
		return int64(amount - 0.5)
	}
	return int64(amount + 0.5)
}
