package models

import "github.com/shopspring/decimal"

type ListingStatus string

const (
	ListingAvailable ListingStatus = "available"
	ListingSold      ListingStatus = "sold"
)

// Listing is a product a seller has published.
// Status is sold exactly when Quantity has been driven to zero by a purchase.
type Listing struct {
	ID       int64           `json:"id"`
	SellerID int64           `json:"seller_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Unit     string          `json:"unit,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
	Status   ListingStatus   `json:"status"`
}
