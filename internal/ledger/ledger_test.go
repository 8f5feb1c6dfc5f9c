package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/tayacoins-ledger/internal/ledger"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/models"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/models/events"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store  *memory.MemoryLedgerStore
	ledger *ledger.Ledger
}

func newFixture(t *testing.T, opts ...memory.Option) *fixture {
	t.Helper()
	store := memory.NewMemoryLedgerStore(opts...)
	return &fixture{store: store, ledger: ledger.NewLedger(store)}
}

func (f *fixture) account(name, balance string) int64 {
	return f.store.AddAccount(models.Account{Name: name, Balance: dec(balance)}).ID
}

func (f *fixture) listing(seller int64, name, price string, qty int) int64 {
	return f.store.AddListing(models.Listing{SellerID: seller, Name: name, Price: dec(price), Quantity: qty}).ID
}

func (f *fixture) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func (f *fixture) get(t *testing.T, id int64) models.Listing {
	t.Helper()
	l, err := f.store.GetListing(context.Background(), id)
	require.NoError(t, err)
	return *l
}

type snapshot struct {
	balances map[int64]string
	listings map[int64]models.Listing
	entries  int
	events   int
}

func (f *fixture) snapshot(t *testing.T, accounts, listings []int64) snapshot {
	t.Helper()
	s := snapshot{balances: map[int64]string{}, listings: map[int64]models.Listing{}}
	for _, id := range accounts {
		s.balances[id] = f.balance(t, id).StringFixed(2)
	}
	for _, id := range listings {
		s.listings[id] = f.get(t, id)
	}
	s.entries = len(f.store.GetLedgerEntries())
	pending, err := f.store.FetchPendingEvents(context.Background(), 0)
	require.NoError(t, err)
	s.events = len(pending)
	return s
}

func assertEqualDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestPurchaseSingle_ExactDepletion(t *testing.T) {
	f := newFixture(t)
	seller := f.account("seller", "10")
	buyer := f.account("buyer", "100")
	item := f.listing(seller, "Lamp", "50", 1)

	receipt, err := f.ledger.PurchaseSingle(context.Background(), buyer, item, 1)
	require.NoError(t, err)

	assertEqualDecimal(t, "50", receipt.NewBalance)
	assertEqualDecimal(t, "50", f.balance(t, buyer))
	assertEqualDecimal(t, "60", f.balance(t, seller))

	l := f.get(t, item)
	assert.Equal(t, 0, l.Quantity)
	assert.Equal(t, models.ListingSold, l.Status)

	entries := f.store.GetLedgerEntries()
	require.Len(t, entries, 1)
	assertEqualDecimal(t, "50", entries[0].Amount)
	assert.Equal(t, buyer, entries[0].BuyerID)
	assert.Equal(t, seller, entries[0].SellerID)
	assert.Equal(t, item, entries[0].ListingID)
	assert.Equal(t, receipt.Entries[0].ID, entries[0].ID)
}

func TestPurchaseSingle_PartialDecrement(t *testing.T) {
	f := newFixture(t)
	seller := f.account("seller", "0")
	buyer := f.account("buyer", "100")
	item := f.listing(seller, "Eggs", "0.35", 36)

	receipt, err := f.ledger.PurchaseSingle(context.Background(), buyer, item, 3)
	require.NoError(t, err)

	assertEqualDecimal(t, "1.05", receipt.Total)
	assertEqualDecimal(t, "98.95", receipt.NewBalance)
	l := f.get(t, item)
	assert.Equal(t, 33, l.Quantity)
	assert.Equal(t, models.ListingAvailable, l.Status)
}

func TestPurchaseSingle_QuantityDefaultsToOne(t *testing.T) {
	for _, q := range []int{0, -4} {
		f := newFixture(t)
		seller := f.account("seller", "0")
		buyer := f.account("buyer", "100")
		item := f.listing(seller, "Pen", "2", 5)

		receipt, err := f.ledger.PurchaseSingle(context.Background(), buyer, item, q)
		require.NoError(t, err)
		assert.Equal(t, 1, receipt.Entries[0].Quantity)
		assert.Equal(t, 4, f.get(t, item).Quantity)
	}
}

func TestPurchaseSingle_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	seller := f.account("seller", "0")
	buyer := f.account("buyer", "100")
	item := f.listing(seller, "Mug", "10", 3)
	before := f.snapshot(t, []int64{seller, buyer}, []int64{item})

	for i := 0; i < 2; i++ {
		_, err := f.ledger.PurchaseSingle(context.Background(), buyer, item, 5)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ledger.ErrInsufficientStock))
		assert.Equal(t, "Insufficient stock. Only 3 available.", err.Error())
		assert.Equal(t, before, f.snapshot(t, []int64{seller, buyer}, []int64{item}))
	}
}

func TestPurchaseSingle_Refusals(t *testing.T) {
	f := newFixture(t)
	seller := f.account("seller", "0")
	buyer := f.account("buyer", "20")
	item := f.listing(seller, "Chair", "25", 2)
	sold := f.store.AddListing(models.Listing{SellerID: seller, Name: "Gone", Price: dec("1"), Quantity: 0, Status: models.ListingSold}).ID

	tests := []struct {
		name    string
		buyer   int64
		listing int64
		kind    ledger.Kind
		reason  string
	}{
		{"missing listing", buyer, 999, ledger.NotFound, "Product not found"},
		{"missing listing wins over missing buyer", 999, 999, ledger.NotFound, "Product not found"},
		{"sold listing", buyer, sold, ledger.Unavailable, "Product not available"},
		{"missing buyer", 999, item, ledger.NotFound, "Buyer not found"},
		{"cannot afford", buyer, item, ledger.InsufficientBalance, "Insufficient balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.snapshot(t, []int64{seller, buyer}, []int64{item, sold})

			_, err := f.ledger.PurchaseSingle(context.Background(), tt.buyer, tt.listing, 1)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ledger.KindOf(err))
			assert.Equal(t, tt.reason, err.Error())
			assert.Equal(t, before, f.snapshot(t, []int64{seller, buyer}, []int64{item, sold}))
		})
	}
}

func TestPurchaseSingle_StagesEvent(t *testing.T) {
	f := newFixture(t)
	f.ledger = ledger.NewLedger(f.store, ledger.WithEventTopic("market.purchases"))
	seller := f.account("seller", "0")
	buyer := f.account("buyer", "100")
	item := f.listing(seller, "Kite", "7.5", 2)

	receipt, err := f.ledger.PurchaseSingle(context.Background(), buyer, item, 2)
	require.NoError(t, err)

	pending, err := f.store.FetchPendingEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "market.purchases", pending[0].Topic)
	assert.Equal(t, fmt.Sprint(item), pending[0].Key)

	var evt events.PurchaseCompleted
	require.NoError(t, json.Unmarshal(pending[0].Payload, &evt))
	assert.Equal(t, receipt.Entries[0].ID, evt.EntryID)
	assert.Equal(t, 2, evt.Quantity)
	assertEqualDecimal(t, "15", evt.Amount)
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture(t)
	buyer := f.account("buyer", "100")

	_, err := f.ledger.Checkout(context.Background(), buyer, nil)
	assert.True(t, errors.Is(err, ledger.ErrEmptyCart))
	assert.Equal(t, "No items in cart", err.Error())
	assert.Empty(t, f.store.GetLedgerEntries())
}

func checkoutFixture(t *testing.T, buyerBalance string) (f *fixture, buyer, sellerA, sellerB, a, b int64) {
	f = newFixture(t)
	sellerA = f.account("seller A", "0")
	sellerB = f.account("seller B", "0")
	buyer = f.account("buyer", buyerBalance)
	a = f.listing(sellerA, "Apples", "20", 5)
	b = f.listing(sellerB, "Bread", "15", 1)
	return
}

func TestCheckout_CartTotalExceedsBalance(t *testing.T) {
	f, buyer, sellerA, sellerB, a, b := checkoutFixture(t, "50")
	before := f.snapshot(t, []int64{buyer, sellerA, sellerB}, []int64{a, b})

	_, err := f.ledger.Checkout(context.Background(), buyer, []models.CartLine{
		{ListingID: a, Quantity: 2},
		{ListingID: b, Quantity: 1},
	})
	require.Error(t, err)
	assert.Equal(t, ledger.InsufficientBalance, ledger.KindOf(err))
	assert.Equal(t, "Insufficient balance for total purchase", err.Error())

	// seller credits staged per line are undone too
	assert.Equal(t, before, f.snapshot(t, []int64{buyer, sellerA, sellerB}, []int64{a, b}))
	assert.Equal(t, 5, f.get(t, a).Quantity)
	assert.Equal(t, 1, f.get(t, b).Quantity)
}

func TestCheckout_Success(t *testing.T) {
	f, buyer, sellerA, sellerB, a, b := checkoutFixture(t, "60")

	receipt, err := f.ledger.Checkout(context.Background(), buyer, []models.CartLine{
		{ListingID: a, Quantity: 2},
		{ListingID: b, Quantity: 1},
	})
	require.NoError(t, err)

	assertEqualDecimal(t, "5", receipt.NewBalance)
	assertEqualDecimal(t, "55", receipt.Total)
	assertEqualDecimal(t, "5", f.balance(t, buyer))
	assertEqualDecimal(t, "40", f.balance(t, sellerA))
	assertEqualDecimal(t, "15", f.balance(t, sellerB))

	assert.Equal(t, 3, f.get(t, a).Quantity)
	assert.Equal(t, models.ListingAvailable, f.get(t, a).Status)
	assert.Equal(t, 0, f.get(t, b).Quantity)
	assert.Equal(t, models.ListingSold, f.get(t, b).Status)

	entries := f.store.GetLedgerEntries()
	require.Len(t, entries, 2)
	assertEqualDecimal(t, "40", entries[0].Amount)
	assertEqualDecimal(t, "15", entries[1].Amount)

	pending, err := f.store.FetchPendingEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestCheckout_LineRefusals(t *testing.T) {
	f, buyer, sellerA, sellerB, a, b := checkoutFixture(t, "1000")
	accounts := []int64{buyer, sellerA, sellerB}
	listings := []int64{a, b}

	tests := []struct {
		name   string
		buyer  int64
		lines  []models.CartLine
		kind   ledger.Kind
		reason string
	}{
		{
			name:   "missing product",
			buyer:  buyer,
			lines:  []models.CartLine{{ListingID: a, Quantity: 1}, {ListingID: 77, Quantity: 1}},
			kind:   ledger.NotFound,
			reason: "Product 77 not found",
		},
		{
			name:   "first failing line wins",
			buyer:  buyer,
			lines:  []models.CartLine{{ListingID: b, Quantity: 3}, {ListingID: 77, Quantity: 1}},
			kind:   ledger.InsufficientStock,
			reason: `Insufficient stock for "Bread". Only 1 available.`,
		},
		{
			name:   "duplicate lines see earlier decrements",
			buyer:  buyer,
			lines:  []models.CartLine{{ListingID: a, Quantity: 3}, {ListingID: a, Quantity: 3}},
			kind:   ledger.InsufficientStock,
			reason: `Insufficient stock for "Apples". Only 2 available.`,
		},
		{
			name:   "line exhausted by an earlier line",
			buyer:  buyer,
			lines:  []models.CartLine{{ListingID: b, Quantity: 1}, {ListingID: b, Quantity: 1}},
			kind:   ledger.Unavailable,
			reason: `Product "Bread" is no longer available`,
		},
		{
			name:   "missing buyer",
			buyer:  4242,
			lines:  []models.CartLine{{ListingID: a, Quantity: 1}},
			kind:   ledger.NotFound,
			reason: "Buyer not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.snapshot(t, accounts, listings)

			_, err := f.ledger.Checkout(context.Background(), tt.buyer, tt.lines)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ledger.KindOf(err))
			assert.Equal(t, tt.reason, err.Error())
			assert.Equal(t, before, f.snapshot(t, accounts, listings))
		})
	}
}

func TestCheckout_DuplicateLinesWithinStock(t *testing.T) {
	f, buyer, sellerA, _, a, _ := checkoutFixture(t, "1000")

	receipt, err := f.ledger.Checkout(context.Background(), buyer, []models.CartLine{
		{ListingID: a, Quantity: 2},
		{ListingID: a, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Len(t, receipt.Entries, 2)
	assert.Equal(t, 0, f.get(t, a).Quantity)
	assert.Equal(t, models.ListingSold, f.get(t, a).Status)
	assertEqualDecimal(t, "100", f.balance(t, sellerA))
	assertEqualDecimal(t, "900", f.balance(t, buyer))
}

func TestCheckout_BuyerSellingToThemself(t *testing.T) {
	f := newFixture(t)
	buyer := f.account("trader", "40")
	other := f.account("other", "0")
	own := f.listing(buyer, "Own stuff", "30", 1)
	theirs := f.listing(other, "Their stuff", "35", 1)

	// the credit of the first line counts towards the final balance check
	receipt, err := f.ledger.Checkout(context.Background(), buyer, []models.CartLine{
		{ListingID: own, Quantity: 1},
		{ListingID: theirs, Quantity: 1},
	})
	require.NoError(t, err)
	assertEqualDecimal(t, "5", receipt.NewBalance)
	assertEqualDecimal(t, "35", f.balance(t, other))
}

func TestPurchaseSingle_LockTimeoutIsTransient(t *testing.T) {
	f := newFixture(t, memory.WithLockTimeout(50*time.Millisecond))
	seller := f.account("seller", "0")
	buyer := f.account("buyer", "100")
	item := f.listing(seller, "Hat", "5", 3)

	ctx := context.Background()
	holder, err := f.store.Begin(ctx)
	require.NoError(t, err)
	_, err = holder.GetListingForUpdate(ctx, item)
	require.NoError(t, err)

	_, err = f.ledger.PurchaseSingle(ctx, buyer, item, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrTransient))
	assert.Equal(t, "Resource busy, please retry", err.Error())

	require.NoError(t, holder.Rollback())
	_, err = f.ledger.PurchaseSingle(ctx, buyer, item, 1)
	assert.NoError(t, err)
}

func TestPurchaseSingle_ConcurrentLastUnit(t *testing.T) {
	f := newFixture(t)
	seller := f.account("seller", "0")
	item := f.listing(seller, "Last one", "10", 1)

	const buyers = 16
	ids := make([]int64, buyers)
	for i := range ids {
		ids[i] = f.account(fmt.Sprintf("buyer-%d", i), "100")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		noStock int
		other   []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(buyer int64) {
			defer wg.Done()
			_, err := f.ledger.PurchaseSingle(context.Background(), buyer, item, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case ledger.KindOf(err) == ledger.Unavailable, ledger.KindOf(err) == ledger.InsufficientStock:
				noStock++
			default:
				other = append(other, err)
			}
		}(id)
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, ok)
	assert.Equal(t, buyers-1, noStock)
	assert.Equal(t, 0, f.get(t, item).Quantity)
	assertEqualDecimal(t, "10", f.balance(t, seller))
	assert.Len(t, f.store.GetLedgerEntries(), 1)
}

func TestConcurrentCheckouts_ConserveMoneyAndStock(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(7))

	const nAccounts, nListings = 6, 8
	accounts := make([]int64, nAccounts)
	for i := range accounts {
		accounts[i] = f.account(fmt.Sprintf("acct-%d", i), "200")
	}
	listings := make([]int64, nListings)
	for i := range listings {
		price := decimal.New(int64(rng.Intn(2000)+1), -2) // 0.01 .. 20.00
		listings[i] = f.listing(accounts[i%nAccounts], fmt.Sprintf("item-%d", i), price.String(), rng.Intn(6)+1)
	}

	total := func() decimal.Decimal {
		sum := decimal.Zero
		for _, id := range accounts {
			sum = sum.Add(f.balance(t, id))
		}
		return sum
	}
	start := total()

	carts := make([][]models.CartLine, 60)
	for i := range carts {
		n := rng.Intn(4) + 1
		for j := 0; j < n; j++ {
			carts[i] = append(carts[i], models.CartLine{
				ListingID: listings[rng.Intn(nListings)],
				Quantity:  rng.Intn(3) + 1,
			})
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(carts))
	for i, cart := range carts {
		wg.Add(1)
		go func(buyer int64, cart []models.CartLine) {
			defer wg.Done()
			_, err := f.ledger.Checkout(context.Background(), buyer, cart)
			if err != nil && ledger.KindOf(err) == ledger.Internal {
				errs <- err
			}
			if ledger.KindOf(err) == ledger.Transient {
				errs <- err
			}
		}(accounts[i%nAccounts], cart)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	assert.True(t, start.Equal(total()), "money created or destroyed: %s -> %s", start, total())
	for _, id := range accounts {
		assert.False(t, f.balance(t, id).IsNegative())
	}
	for _, id := range listings {
		l := f.get(t, id)
		assert.GreaterOrEqual(t, l.Quantity, 0)
		assert.Equal(t, l.Quantity == 0, l.Status == models.ListingSold, "listing %d", id)
	}
}

func TestConcurrentCheckouts_OppositeOrderDoNotDeadlock(t *testing.T) {
	f := newFixture(t, memory.WithLockTimeout(2*time.Second))
	seller := f.account("seller", "0")
	a := f.listing(seller, "A", "1", 1000)
	b := f.listing(seller, "B", "1", 1000)
	buyer1 := f.account("b1", "1000")
	buyer2 := f.account("b2", "1000")

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Checkout(context.Background(), buyer1, []models.CartLine{{ListingID: a, Quantity: 1}, {ListingID: b, Quantity: 1}}); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Checkout(context.Background(), buyer2, []models.CartLine{{ListingID: b, Quantity: 1}, {ListingID: a, Quantity: 1}}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	assert.Equal(t, 800, f.get(t, a).Quantity)
	assert.Equal(t, 800, f.get(t, b).Quantity)
	assertEqualDecimal(t, "400", f.balance(t, seller))
}

func TestBalanceAndHistory(t *testing.T) {
	f, buyer, sellerA, _, a, b := checkoutFixture(t, "100")
	ctx := context.Background()

	_, err := f.ledger.PurchaseSingle(ctx, buyer, a, 1)
	require.NoError(t, err)
	_, err = f.ledger.PurchaseSingle(ctx, buyer, b, 1)
	require.NoError(t, err)

	bal, err := f.ledger.Balance(ctx, buyer)
	require.NoError(t, err)
	assertEqualDecimal(t, "65", bal)

	_, err = f.ledger.Balance(ctx, 999)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	history, err := f.ledger.History(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	sellerHistory, err := f.ledger.History(ctx, sellerA)
	require.NoError(t, err)
	require.Len(t, sellerHistory, 1)
	assert.Equal(t, "Apples", sellerHistory[0].ProductName)
	assert.Equal(t, "buyer", sellerHistory[0].BuyerName)
	assert.Equal(t, "seller A", sellerHistory[0].SellerName)
}

func TestWithClockStampsEntries(t *testing.T) {
	store := memory.NewMemoryLedgerStore()
	fixed := time.Date(2024, 2, 29, 23, 59, 0, 0, time.FixedZone("CET", 3600))
	l := ledger.NewLedger(store, ledger.WithClock(func() time.Time { return fixed }))

	seller := store.AddAccount(models.Account{Name: "seller"}).ID
	buyer := store.AddAccount(models.Account{Name: "buyer", Balance: dec("5")}).ID
	item := store.AddListing(models.Listing{SellerID: seller, Name: "Pin", Price: dec("1"), Quantity: 1}).ID

	receipt, err := l.PurchaseSingle(context.Background(), buyer, item, 1)
	require.NoError(t, err)
	assert.True(t, fixed.Equal(receipt.Entries[0].CreatedAt))
	assert.Equal(t, time.UTC, receipt.Entries[0].CreatedAt.Location())
}
