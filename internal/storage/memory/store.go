package memory

import (
	"context" // request-scoped cancellation for lock waits
	"fmt"
	"sort"
	"sync" // protects the committed state below
	"time"

	interfaces "github.com/sheikh-saqib/tayacoins-ledger/internal/interfaces"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/models"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/storage"
)

// DefaultLockTimeout bounds how long a unit of work waits for a row lock.
const DefaultLockTimeout = 5 * time.Second

type rowKind uint8

const (
	accountRow rowKind = iota
	listingRow
)

type rowKey struct {
	kind rowKind
	id   int64
}

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// Every account and listing row has an exclusive lock that a unit of work
// holds from its first locked read until it commits or rolls back.
type MemoryLedgerStore struct {
	mu           sync.Mutex                       // guards everything below
	accounts     map[int64]models.Account         // committed accounts
	listings     map[int64]models.Listing         // committed listings
	entries      []models.LedgerEntry             // append-only purchase log
	outbox       []models.OutboxRecord            // staged events, in id order
	locks        map[rowKey]chan struct{}         // one-slot semaphore per row
	nextAccount  int64
	nextListing  int64
	nextOutboxID int64

	lockTimeout time.Duration
}

type Option func(*MemoryLedgerStore)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(m *MemoryLedgerStore) {
		m.lockTimeout = d
	}
}

// NewMemoryLedgerStore creates and returns an empty MemoryLedgerStore.
func NewMemoryLedgerStore(opts ...Option) *MemoryLedgerStore {
	m := &MemoryLedgerStore{
		accounts:    make(map[int64]models.Account),
		listings:    make(map[int64]models.Listing),
		entries:     make([]models.LedgerEntry, 0),
		outbox:      make([]models.OutboxRecord, 0),
		locks:       make(map[rowKey]chan struct{}),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddAccount stores a new account and returns it with its assigned ID.
// Account creation is owned by registration, so this is for seeding only.
func (m *MemoryLedgerStore) AddAccount(a models.Account) models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == 0 {
		m.nextAccount++
		a.ID = m.nextAccount
	} else if a.ID > m.nextAccount {
		m.nextAccount = a.ID
	}
	m.accounts[a.ID] = a
	return a
}

// AddListing stores a new listing and returns it with its assigned ID.
func (m *MemoryLedgerStore) AddListing(l models.Listing) models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.ID == 0 {
		m.nextListing++
		l.ID = m.nextListing
	} else if l.ID > m.nextListing {
		m.nextListing = l.ID
	}
	if l.Status == "" {
		l.Status = models.ListingAvailable
	}
	m.listings[l.ID] = l
	return l
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &a, nil
}

func (m *MemoryLedgerStore) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &l, nil
}

// GetLedgerEntries returns a copy of every committed ledger entry.
func (m *MemoryLedgerStore) GetLedgerEntries() []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]models.LedgerEntry, len(m.entries))
	copy(copied, m.entries) // callers can't modify internal state
	return copied
}

// ListHistory returns the entries where userID is buyer or seller, newest first.
func (m *MemoryLedgerStore) ListHistory(ctx context.Context, userID int64) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]models.HistoryEntry, 0)
	for _, e := range m.entries {
		if e.BuyerID != userID && e.SellerID != userID {
			continue
		}
		h := models.HistoryEntry{LedgerEntry: e}
		if l, ok := m.listings[e.ListingID]; ok {
			h.ProductName = l.Name
			h.ProductImage = l.ImageURL
			h.ProductUnit = l.Unit
		}
		h.BuyerName = m.accounts[e.BuyerID].Name
		h.SellerName = m.accounts[e.SellerID].Name
		result = append(result, h)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryLedgerStore) FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []models.OutboxRecord
	for _, rec := range m.outbox {
		if rec.SentAt != nil {
			continue
		}
		pending = append(pending, rec)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (m *MemoryLedgerStore) MarkEventSent(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.outbox {
		if m.outbox[i].ID == id {
			now := time.Now().UTC()
			m.outbox[i].SentAt = &now
			return nil
		}
	}
	return fmt.Errorf("outbox record %d: %w", id, storage.ErrNotFound)
}

// Begin opens a unit of work. It takes no locks until the first locked read.
func (m *MemoryLedgerStore) Begin(ctx context.Context) (interfaces.UnitOfWork, error) {
	return &unitOfWork{
		store:    m,
		held:     make(map[rowKey]struct{}),
		accounts: make(map[int64]*models.Account),
		listings: make(map[int64]*models.Listing),
	}, nil
}

func (m *MemoryLedgerStore) rowLock(key rowKey) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	return ch
}

func (m *MemoryLedgerStore) acquire(ctx context.Context, key rowKey) error {
	ch := m.rowLock(key)

	timer := time.NewTimer(m.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return storage.ErrLockTimeout
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", storage.ErrLockTimeout, ctx.Err())
	}
}

func (m *MemoryLedgerStore) release(key rowKey) {
	<-m.rowLock(key)
}

// Compile-time checks
var (
	_ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
	_ interfaces.OutboxStore = (*MemoryLedgerStore)(nil)
)
