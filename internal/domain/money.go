package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true, "KRW": true, "VND": true, "CLP": true, "ISK": true, "UGX": true,
}

// MinorUnitExponent returns the number of decimal places for a currency
func MinorUnitExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// ParsePrice converts a display price such as "$1,299.50" into minor units.
// More decimal places than the currency allows is an error.
func ParsePrice(s, currency string) (int64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, strings.TrimSpace(s))
	if cleaned == "" {
		return 0, ErrInvalidPrice
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, ErrInvalidPrice
	}
	if d.IsNegative() {
		return 0, ErrInvalidAmount
	}

	exp := MinorUnitExponent(currency)
	minor := d.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrInvalidPrice
	}
	return minor.IntPart(), nil
}

// FormatMinor renders minor units as a fixed-point string, e.g. 1250 USD -> "12.50"
func FormatMinor(amount int64, currency string) string {
	exp := MinorUnitExponent(currency)
	return decimal.New(amount, -exp).StringFixed(exp)
}
