package ledger

import "github.com/shopspring/decimal"

// LineTotal is price x quantity rounded half-up to whole cents.
func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// NormalizeQuantity turns a missing or non-positive quantity into 1.
func NormalizeQuantity(quantity int) int {
	if quantity < 1 {
		return 1
	}
	return quantity
}
