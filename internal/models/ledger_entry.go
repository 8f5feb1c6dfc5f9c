package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is the immutable record of one committed purchase of one listing.
type LedgerEntry struct {
	ID        string          `json:"id"`         // uuid
	BuyerID   int64           `json:"buyer_id"`   // account debited
	SellerID  int64           `json:"seller_id"`  // account credited
	ListingID int64           `json:"product_id"` // listing purchased
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"` // unit price x quantity, rounded to cents
	CreatedAt time.Time       `json:"transaction_date"`
}

// HistoryEntry is a LedgerEntry joined with the names a client needs to render it.
type HistoryEntry struct {
	LedgerEntry
	ProductName  string `json:"product_name"`
	ProductImage string `json:"product_image,omitempty"`
	ProductUnit  string `json:"product_unit,omitempty"`
	BuyerName    string `json:"buyer_name"`
	SellerName   string `json:"seller_name"`
}
