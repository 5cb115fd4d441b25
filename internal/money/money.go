// Package money formats amounts stored in minor currency units.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a command omits the currency column.
const DefaultCurrency = "USD"

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// ToMajor converts minor units (cents) into a decimal major-unit amount.
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Format renders minor units for display, e.g. 1234 USD -> "$12.34".
// Currencies without a known symbol are rendered as "12.34 CHF".
func Format(minor int64, currency string) string {
	amount := ToMajor(minor).StringFixed(2)
	currency = strings.ToUpper(currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	if sym, ok := symbols[currency]; ok {
		if strings.HasPrefix(amount, "-") {
			return "-" + sym + strings.TrimPrefix(amount, "-")
		}
		return sym + amount
	}
	return amount + " " + currency
}
