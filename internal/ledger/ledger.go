package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/tayacoins-ledger/internal/interfaces"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/models"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/models/events"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/storage"
)

// Ledger moves coins between accounts and stock out of listings.
// Every purchase runs in one unit of work of the store: all of its balance,
// stock, ledger and outbox writes commit together or not at all.
//
// Rows are locked listings first, then accounts, each group in ascending ID
// order, so two units of work can never wait on each other in a cycle.
type Ledger struct {
	store  interfaces.LedgerStore
	topic  string
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Ledger)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithEventTopic sets the topic purchase events are staged for.
func WithEventTopic(topic string) Option {
	return func(l *Ledger) {
		l.topic = topic
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a Ledger on top of the given store.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		topic:  events.PurchaseCompletedTopic,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PurchaseSingle buys quantity units of one listing for buyerID.
//
// Checks run in this order and the first failure wins: listing exists,
// listing available, enough stock, buyer exists, buyer can afford the total.
func (l *Ledger) PurchaseSingle(ctx context.Context, buyerID, listingID int64, quantity int) (*models.Receipt, error) {
	quantity = NormalizeQuantity(quantity)
	log := l.logger.With(
		zap.String("op", "purchase"),
		zap.Int64("buyer_id", buyerID),
		zap.Int64("listing_id", listingID),
		zap.Int("quantity", quantity),
	)

	uow, err := l.store.Begin(ctx)
	if err != nil {
		return nil, l.storeError(log, "begin", err)
	}
	defer uow.Rollback()

	listing, err := uow.GetListingForUpdate(ctx, listingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, l.reject(log, refuse(NotFound, ErrMsgProductNotFound))
	}
	if err != nil {
		return nil, l.storeError(log, "lock listing", err)
	}
	if listing.Status != models.ListingAvailable {
		return nil, l.reject(log, refuse(Unavailable, ErrMsgProductNotAvailable))
	}
	if listing.Quantity < quantity {
		return nil, l.reject(log, refuse(InsufficientStock, fmt.Sprintf(ErrMsgInsufficientStock, listing.Quantity)))
	}

	accounts, err := l.lockAccounts(ctx, uow, buyerID, []int64{listing.SellerID})
	if err != nil {
		return nil, l.accountError(log, err)
	}

	total := LineTotal(listing.Price, quantity)
	if accounts[buyerID].Balance.LessThan(total) {
		return nil, l.reject(log, refuse(InsufficientBalance, ErrMsgInsufficientBalance))
	}

	if err := uow.UpdateAccountBalance(ctx, buyerID, total.Neg()); err != nil {
		return nil, l.storeError(log, "debit buyer", err)
	}
	entry, err := l.sell(ctx, uow, buyerID, listing, quantity, total)
	if err != nil {
		return nil, l.storeError(log, "sell", err)
	}

	buyer, err := uow.GetAccountForUpdate(ctx, buyerID)
	if err != nil {
		return nil, l.storeError(log, "reload buyer", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, l.storeError(log, "commit", err)
	}

	log.Info("purchase committed",
		zap.String("entry_id", entry.ID),
		zap.Int64("seller_id", entry.SellerID),
		zap.String("amount", total.StringFixed(2)),
		zap.String("new_balance", buyer.Balance.StringFixed(2)),
	)
	return &models.Receipt{
		Entries:    []models.LedgerEntry{entry},
		Total:      total,
		NewBalance: buyer.Balance,
	}, nil
}

// Checkout buys every line of a cart for buyerID as one unit.
//
// Lines are settled in the order given, each against the stock left by the
// lines before it, and each seller is credited as its line is settled. The
// buyer's balance is only compared with the cart total after the last line;
// a shortfall there undoes the whole cart, seller credits included.
func (l *Ledger) Checkout(ctx context.Context, buyerID int64, lines []models.CartLine) (*models.Receipt, error) {
	log := l.logger.With(
		zap.String("op", "checkout"),
		zap.Int64("buyer_id", buyerID),
		zap.Int("lines", len(lines)),
	)
	if len(lines) == 0 {
		return nil, l.reject(log, refuse(EmptyCart, ErrMsgEmptyCart))
	}

	uow, err := l.store.Begin(ctx)
	if err != nil {
		return nil, l.storeError(log, "begin", err)
	}
	defer uow.Rollback()

	// Take every lock up front. A missing listing is not an error yet: it
	// is reported when its line comes up, so line order decides which
	// refusal the caller sees.
	var sellers []int64
	for _, id := range distinctSorted(lineListingIDs(lines)) {
		listing, err := uow.GetListingForUpdate(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, l.storeError(log, "lock listing", err)
		}
		sellers = append(sellers, listing.SellerID)
	}
	if _, err := l.lockAccounts(ctx, uow, buyerID, sellers); err != nil {
		return nil, l.accountError(log, err)
	}

	cartTotal := decimal.Zero
	entries := make([]models.LedgerEntry, 0, len(lines))
	for i, line := range lines {
		quantity := NormalizeQuantity(line.Quantity)

		listing, err := uow.GetListingForUpdate(ctx, line.ListingID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, l.reject(log, refuse(NotFound, fmt.Sprintf(ErrMsgLineNotFound, line.ListingID)))
		}
		if err != nil {
			return nil, l.storeError(log, "reload listing", err)
		}
		if listing.Status != models.ListingAvailable {
			return nil, l.reject(log, refuse(Unavailable, fmt.Sprintf(ErrMsgLineNotAvailable, listing.Name)))
		}
		if listing.Quantity < quantity {
			return nil, l.reject(log, refuse(InsufficientStock, fmt.Sprintf(ErrMsgLineInsufficientStock, listing.Name, listing.Quantity)))
		}

		lineTotal := LineTotal(listing.Price, quantity)
		cartTotal = cartTotal.Add(lineTotal)

		entry, err := l.sell(ctx, uow, buyerID, listing, quantity, lineTotal)
		if err != nil {
			return nil, l.storeError(log, "sell", err)
		}
		entries = append(entries, entry)

		log.Debug("cart line staged",
			zap.Int("line", i+1),
			zap.Int64("listing_id", listing.ID),
			zap.String("line_total", lineTotal.StringFixed(2)),
			zap.String("cart_total", cartTotal.StringFixed(2)),
		)
	}

	buyer, err := uow.GetAccountForUpdate(ctx, buyerID)
	if err != nil {
		return nil, l.storeError(log, "reload buyer", err)
	}
	if buyer.Balance.LessThan(cartTotal) {
		return nil, l.reject(log, refuse(InsufficientBalance, ErrMsgCartInsufficientFunds))
	}
	if err := uow.UpdateAccountBalance(ctx, buyerID, cartTotal.Neg()); err != nil {
		return nil, l.storeError(log, "debit buyer", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, l.storeError(log, "commit", err)
	}

	newBalance := buyer.Balance.Sub(cartTotal)
	log.Info("checkout committed",
		zap.Int("entries", len(entries)),
		zap.String("total", cartTotal.StringFixed(2)),
		zap.String("new_balance", newBalance.StringFixed(2)),
	)
	return &models.Receipt{
		Entries:    entries,
		Total:      cartTotal,
		NewBalance: newBalance,
	}, nil
}

// Balance returns the committed balance of an account.
func (l *Ledger) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	account, err := l.store.GetAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return decimal.Zero, refuse(NotFound, ErrMsgAccountNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// History returns the purchases userID took part in, newest first.
func (l *Ledger) History(ctx context.Context, userID int64) ([]models.HistoryEntry, error) {
	history, err := l.store.ListHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	return history, nil
}

// sell credits the seller, takes the stock and records the entry and its
// event. The listing must already be locked and checked by the caller.
func (l *Ledger) sell(ctx context.Context, uow interfaces.UnitOfWork, buyerID int64, listing *models.Listing, quantity int, amount decimal.Decimal) (models.LedgerEntry, error) {
	if err := uow.UpdateAccountBalance(ctx, listing.SellerID, amount); err != nil {
		return models.LedgerEntry{}, err
	}

	remaining := listing.Quantity - quantity
	status := models.ListingAvailable
	if remaining <= 0 {
		remaining = 0
		status = models.ListingSold
	}
	if err := uow.UpdateListingStock(ctx, listing.ID, remaining, status); err != nil {
		return models.LedgerEntry{}, err
	}

	entry := models.LedgerEntry{
		ID:        uuid.New().String(),
		BuyerID:   buyerID,
		SellerID:  listing.SellerID,
		ListingID: listing.ID,
		Quantity:  quantity,
		Amount:    amount,
		CreatedAt: l.now().UTC(),
	}
	if err := uow.AppendLedgerEntry(ctx, entry); err != nil {
		return models.LedgerEntry{}, err
	}

	record, err := l.purchaseEvent(entry)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if err := uow.EnqueueEvent(ctx, record); err != nil {
		return models.LedgerEntry{}, err
	}
	return entry, nil
}

func (l *Ledger) purchaseEvent(entry models.LedgerEntry) (models.OutboxRecord, error) {
	event := events.PurchaseCompleted{
		EventID:    uuid.New().String(),
		EntryID:    entry.ID,
		BuyerID:    entry.BuyerID,
		SellerID:   entry.SellerID,
		ListingID:  entry.ListingID,
		Quantity:   entry.Quantity,
		Amount:     entry.Amount,
		OccurredAt: entry.CreatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return models.OutboxRecord{}, err
	}
	return models.OutboxRecord{
		EventID:   event.EventID,
		Topic:     l.topic,
		Key:       strconv.FormatInt(entry.ListingID, 10),
		Payload:   payload,
		CreatedAt: entry.CreatedAt,
	}, nil
}

// errBuyerMissing and errSellerMissing let accountError tell the two apart.
var (
	errBuyerMissing  = errors.New("buyer missing")
	errSellerMissing = errors.New("seller missing")
)

// lockAccounts locks the buyer and the sellers in ascending ID order.
func (l *Ledger) lockAccounts(ctx context.Context, uow interfaces.UnitOfWork, buyerID int64, sellerIDs []int64) (map[int64]*models.Account, error) {
	ids := distinctSorted(append([]int64{buyerID}, sellerIDs...))

	accounts := make(map[int64]*models.Account, len(ids))
	for _, id := range ids {
		account, err := uow.GetAccountForUpdate(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			if id == buyerID {
				return nil, errBuyerMissing
			}
			return nil, fmt.Errorf("%w: account %d", errSellerMissing, id)
		}
		if err != nil {
			return nil, err
		}
		accounts[id] = account
	}
	return accounts, nil
}

func (l *Ledger) accountError(log *zap.Logger, err error) error {
	if errors.Is(err, errBuyerMissing) {
		return l.reject(log, refuse(NotFound, ErrMsgBuyerNotFound))
	}
	return l.storeError(log, "lock accounts", err)
}

func (l *Ledger) reject(log *zap.Logger, e *Error) error {
	log.Debug("purchase refused", zap.Stringer("kind", e.Kind), zap.String("reason", e.Reason))
	return e
}

// storeError turns lock contention into Transient; anything else is internal.
func (l *Ledger) storeError(log *zap.Logger, step string, err error) error {
	if errors.Is(err, storage.ErrLockTimeout) {
		log.Warn("lock contention", zap.String("step", step), zap.Error(err))
		return &Error{Kind: Transient, Reason: ErrMsgBusy, Err: err}
	}
	log.Error("store failure", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("ledger: %s: %w", step, err)
}

func lineListingIDs(lines []models.CartLine) []int64 {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ListingID
	}
	return ids
}

func distinctSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
