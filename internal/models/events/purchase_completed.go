package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const PurchaseCompletedTopic = "purchase.completed"

type PurchaseCompleted struct {
	EventID    string          `json:"event_id"`
	EntryID    string          `json:"entry_id"`
	BuyerID    int64           `json:"buyer_id"`
	SellerID   int64           `json:"seller_id"`
	ListingID  int64           `json:"listing_id"`
	Quantity   int             `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}
