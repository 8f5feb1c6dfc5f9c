package memory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/tayacoins-ledger/internal/interfaces"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/models"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/storage"
)

var errUnitClosed = errors.New("memory: unit of work already finished")

// unitOfWork stages copies of every row it locks. Commit writes the copies
// back, Rollback drops them; either way the locks are released.
type unitOfWork struct {
	store *MemoryLedgerStore

	held     map[rowKey]struct{}
	order    []rowKey
	accounts map[int64]*models.Account
	listings map[int64]*models.Listing
	entries  []models.LedgerEntry
	events   []models.OutboxRecord
	done     bool
}

func (u *unitOfWork) lock(ctx context.Context, key rowKey) error {
	if u.done {
		return errUnitClosed
	}
	if _, ok := u.held[key]; ok {
		return nil
	}
	if err := u.store.acquire(ctx, key); err != nil {
		return err
	}
	u.held[key] = struct{}{}
	u.order = append(u.order, key)
	return nil
}

func (u *unitOfWork) stagedListing(ctx context.Context, id int64) (*models.Listing, error) {
	if err := u.lock(ctx, rowKey{listingRow, id}); err != nil {
		return nil, err
	}
	if l, ok := u.listings[id]; ok {
		return l, nil
	}

	u.store.mu.Lock()
	l, ok := u.store.listings[id]
	u.store.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	u.listings[id] = &l
	return &l, nil
}

func (u *unitOfWork) stagedAccount(ctx context.Context, id int64) (*models.Account, error) {
	if err := u.lock(ctx, rowKey{accountRow, id}); err != nil {
		return nil, err
	}
	if a, ok := u.accounts[id]; ok {
		return a, nil
	}

	u.store.mu.Lock()
	a, ok := u.store.accounts[id]
	u.store.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	u.accounts[id] = &a
	return &a, nil
}

func (u *unitOfWork) GetListingForUpdate(ctx context.Context, id int64) (*models.Listing, error) {
	l, err := u.stagedListing(ctx, id)
	if err != nil {
		return nil, err
	}
	out := *l
	return &out, nil
}

func (u *unitOfWork) GetAccountForUpdate(ctx context.Context, id int64) (*models.Account, error) {
	a, err := u.stagedAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	out := *a
	return &out, nil
}

func (u *unitOfWork) UpdateAccountBalance(ctx context.Context, id int64, delta decimal.Decimal) error {
	a, err := u.stagedAccount(ctx, id)
	if err != nil {
		return err
	}
	a.Balance = a.Balance.Add(delta)
	return nil
}

func (u *unitOfWork) UpdateListingStock(ctx context.Context, id int64, quantity int, status models.ListingStatus) error {
	l, err := u.stagedListing(ctx, id)
	if err != nil {
		return err
	}
	l.Quantity = quantity
	l.Status = status
	return nil
}

func (u *unitOfWork) AppendLedgerEntry(ctx context.Context, entry models.LedgerEntry) error {
	if u.done {
		return errUnitClosed
	}
	u.entries = append(u.entries, entry)
	return nil
}

func (u *unitOfWork) EnqueueEvent(ctx context.Context, record models.OutboxRecord) error {
	if u.done {
		return errUnitClosed
	}
	u.events = append(u.events, record)
	return nil
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return errUnitClosed
	}

	m := u.store
	m.mu.Lock()
	for id, a := range u.accounts {
		m.accounts[id] = *a
	}
	for id, l := range u.listings {
		m.listings[id] = *l
	}
	m.entries = append(m.entries, u.entries...)
	now := time.Now().UTC()
	for _, rec := range u.events {
		m.nextOutboxID++
		rec.ID = m.nextOutboxID
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		m.outbox = append(m.outbox, rec)
	}
	m.mu.Unlock()

	u.finish()
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.finish()
	return nil
}

// finish releases locks in reverse acquisition order.
func (u *unitOfWork) finish() {
	u.done = true
	for i := len(u.order) - 1; i >= 0; i-- {
		u.store.release(u.order[i])
	}
	u.order = nil
	u.held = nil
}

var _ interfaces.UnitOfWork = (*unitOfWork)(nil)
