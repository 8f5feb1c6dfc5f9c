package models

import "github.com/shopspring/decimal"

// Account is a marketplace user as far as the ledger is concerned.
type Account struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"` // never negative after a commit
}
