package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/tayacoins-ledger/internal/interfaces"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/models"
)

// unitOfWork is a database transaction. Row locks taken with FOR UPDATE are
// held by Postgres until Commit or Rollback.
type unitOfWork struct {
	tx *sql.Tx
}

func (u *unitOfWork) GetListingForUpdate(ctx context.Context, id int64) (*models.Listing, error) {
	const query = `SELECT id, seller_id, name, price, quantity, COALESCE(unit, ''), COALESCE(image_url, ''), status
	FROM products WHERE id = $1 FOR UPDATE`

	return scanListing(u.tx.QueryRowContext(ctx, query, id))
}

func (u *unitOfWork) GetAccountForUpdate(ctx context.Context, id int64) (*models.Account, error) {
	const query = `SELECT id, name, balance FROM users WHERE id = $1 FOR UPDATE`

	var a models.Account
	if err := u.tx.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Name, &a.Balance); err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (u *unitOfWork) UpdateAccountBalance(ctx context.Context, id int64, delta decimal.Decimal) error {
	const query = `UPDATE users SET balance = balance + $2 WHERE id = $1`

	res, err := u.tx.ExecContext(ctx, query, id, delta)
	if err != nil {
		return mapError(err)
	}
	return expectOneRow(res)
}

func (u *unitOfWork) UpdateListingStock(ctx context.Context, id int64, quantity int, status models.ListingStatus) error {
	const query = `UPDATE products SET quantity = $2, status = $3 WHERE id = $1`

	res, err := u.tx.ExecContext(ctx, query, id, quantity, string(status))
	if err != nil {
		return mapError(err)
	}
	return expectOneRow(res)
}

func (u *unitOfWork) AppendLedgerEntry(ctx context.Context, entry models.LedgerEntry) error {
	const query = `INSERT INTO transactions (id, buyer_id, seller_id, product_id, quantity, amount, transaction_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := u.tx.ExecContext(ctx, query, entry.ID, entry.BuyerID, entry.SellerID, entry.ListingID, entry.Quantity, entry.Amount, entry.CreatedAt)
	return mapError(err)
}

func (u *unitOfWork) EnqueueEvent(ctx context.Context, record models.OutboxRecord) error {
	const query = `INSERT INTO outbox (event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`

	_, err := u.tx.ExecContext(ctx, query, record.EventID, record.Topic, record.Key, []byte(record.Payload))
	return mapError(err)
}

func (u *unitOfWork) Commit() error {
	return mapError(u.tx.Commit())
}

func (u *unitOfWork) Rollback() error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

var _ interfaces.UnitOfWork = (*unitOfWork)(nil)
