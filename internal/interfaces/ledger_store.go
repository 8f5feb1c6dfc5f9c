package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/tayacoins-ledger/internal/models"
)

// LedgerStore is the data store the engine runs against.
// Only the engine mutates accounts and listings, and only through a UnitOfWork.
type LedgerStore interface {
	Begin(ctx context.Context) (UnitOfWork, error)

	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	ListHistory(ctx context.Context, userID int64) ([]models.HistoryEntry, error)
}

// UnitOfWork is one all-or-nothing scope. Rows read for update stay locked
// until Commit or Rollback, and reads observe the writes already staged in it.
// Rollback after Commit is a no-op.
type UnitOfWork interface {
	GetListingForUpdate(ctx context.Context, id int64) (*models.Listing, error)
	GetAccountForUpdate(ctx context.Context, id int64) (*models.Account, error)

	UpdateAccountBalance(ctx context.Context, id int64, delta decimal.Decimal) error
	UpdateListingStock(ctx context.Context, id int64, quantity int, status models.ListingStatus) error
	AppendLedgerEntry(ctx context.Context, entry models.LedgerEntry) error
	EnqueueEvent(ctx context.Context, record models.OutboxRecord) error

	Commit() error
	Rollback() error
}

// OutboxStore is the read/ack side of the events staged by units of work.
type OutboxStore interface {
	FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxRecord, error)
	MarkEventSent(ctx context.Context, id int64) error
}
