package models

import "github.com/shopspring/decimal"

// CartLine is one requested item of a checkout. It is never persisted.
type CartLine struct {
	ListingID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Receipt is what the engine hands back after a committed purchase or checkout.
type Receipt struct {
	Entries    []LedgerEntry   `json:"entries"`
	Total      decimal.Decimal `json:"total"`
	NewBalance decimal.Decimal `json:"newBalance"`
}
