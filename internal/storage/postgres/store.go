package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	interfaces "github.com/sheikh-saqib/tayacoins-ledger/internal/interfaces"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/models"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/storage"
)

//go:embed schema.sql
var schema string

// Postgres error codes that mean "someone else holds the row, try again".
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

type PostgresLedgerStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPostgresLedgerStore(db *sql.DB, lockTimeout time.Duration) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db:          db,
		lockTimeout: lockTimeout,
	}
}

// EnsureSchema creates the ledger tables when they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Begin opens a transaction with a bounded lock wait. Every FOR UPDATE read
// in it blocks at most lockTimeout before failing with storage.ErrLockTimeout.
func (p *PostgresLedgerStore) Begin(ctx context.Context) (interfaces.UnitOfWork, error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err)
	}

	if p.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", p.lockTimeout.Milliseconds())
		if _, err := dbTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			dbTx.Rollback()
			return nil, mapError(err)
		}
	}
	return &unitOfWork{tx: dbTx}, nil
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	const query = `SELECT id, name, balance FROM users WHERE id = $1`

	var a models.Account
	if err := p.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Name, &a.Balance); err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (p *PostgresLedgerStore) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	const query = `SELECT id, seller_id, name, price, quantity, COALESCE(unit, ''), COALESCE(image_url, ''), status
	FROM products WHERE id = $1`

	return scanListing(p.db.QueryRowContext(ctx, query, id))
}

func (p *PostgresLedgerStore) ListHistory(ctx context.Context, userID int64) ([]models.HistoryEntry, error) {
	const query = `SELECT t.id, t.buyer_id, t.seller_id, t.product_id, t.quantity, t.amount, t.transaction_date,
		COALESCE(p.name, ''), COALESCE(p.image_url, ''), COALESCE(p.unit, ''),
		COALESCE(buyer.name, ''), COALESCE(seller.name, '')
	FROM transactions t
	LEFT JOIN products p ON t.product_id = p.id
	LEFT JOIN users buyer ON t.buyer_id = buyer.id
	LEFT JOIN users seller ON t.seller_id = seller.id
	WHERE t.buyer_id = $1 OR t.seller_id = $1
	ORDER BY t.transaction_date DESC`

	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	history := make([]models.HistoryEntry, 0)
	for rows.Next() {
		var h models.HistoryEntry
		err := rows.Scan(
			&h.ID,
			&h.BuyerID,
			&h.SellerID,
			&h.ListingID,
			&h.Quantity,
			&h.Amount,
			&h.CreatedAt,
			&h.ProductName,
			&h.ProductImage,
			&h.ProductUnit,
			&h.BuyerName,
			&h.SellerName,
		)
		if err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (p *PostgresLedgerStore) FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	const query = `SELECT id, event_id, topic, key, payload, created_at, sent_at
	FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT NULLIF($1, 0)`

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []models.OutboxRecord
	for rows.Next() {
		var (
			rec     models.OutboxRecord
			payload []byte
			sentAt  sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &payload, &rec.CreatedAt, &sentAt); err != nil {
			return nil, err
		}
		rec.Payload = json.RawMessage(payload)
		if sentAt.Valid {
			rec.SentAt = &sentAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresLedgerStore) MarkEventSent(ctx context.Context, id int64) error {
	const query = `UPDATE outbox SET sent_at = now() WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return mapError(err)
	}
	return expectOneRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(&l.ID, &l.SellerID, &l.Name, &l.Price, &l.Quantity, &l.Unit, &l.ImageURL, &l.Status)
	if err != nil {
		return nil, mapError(err)
	}
	return &l, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// mapError translates driver errors into the storage sentinels.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return fmt.Errorf("%w: %s", storage.ErrLockTimeout, pqErr.Message)
		}
	}
	return err
}

var (
	_ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
	_ interfaces.OutboxStore = (*PostgresLedgerStore)(nil)
)
