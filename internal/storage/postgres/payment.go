package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GaryWong163/Online-shop/internal/domain/order"
	"github.com/GaryWong163/Online-shop/internal/domain/payment"
)

var _ payment.Store = (*TransactionStore)(nil)

// TransactionStore implements payment.Store. Writers serialize per order on
// a row lock of the order; the unique provider id is the final guard
// against duplicates.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore returns a TransactionStore that uses the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const (
	txnColumns = `id, order_id, provider_txn_id, payment_status, amount, created_at`

	insertTxn = `INSERT INTO transactions (order_id, provider_txn_id, payment_status, amount)
VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	selectTxnByProvider = `SELECT ` + txnColumns + ` FROM transactions WHERE provider_txn_id = $1`

	// Rows are ordered by id: it is assigned at insert time under the order
	// row lock, while created_at of a writer that waited on the lock can
	// predate a row committed before it.
	selectLatestTxn = `SELECT ` + txnColumns + ` FROM transactions
WHERE order_id = $1 ORDER BY id DESC LIMIT 1`

	selectCompletedTxn = `SELECT ` + txnColumns + ` FROM transactions
WHERE order_id = $1 AND payment_status = $2 ORDER BY id DESC LIMIT 1`
)

// InTx runs fn inside a database transaction. Errors from fn are returned
// unchanged; begin and commit failures are classified like any query.
func (s *TransactionStore) InTx(ctx context.Context, fn func(ctx context.Context, tx payment.Tx) error) error {
	var fnErr error
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		fnErr = fn(ctx, &pgTx{tx: tx})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return wrap(err, "payment transaction")
	}
	return err
}

// FindByProviderID returns the transaction recorded for a provider id.
func (s *TransactionStore) FindByProviderID(ctx context.Context, providerTxnID string) (*payment.Transaction, error) {
	return getTxn(ctx, s.pool, selectTxnByProvider, providerTxnID)
}

// FindCompleted returns the most recent Completed transaction of the order.
func (s *TransactionStore) FindCompleted(ctx context.Context, orderID int64) (*payment.Transaction, error) {
	return getTxn(ctx, s.pool, selectCompletedTxn, orderID, string(payment.StatusCompleted))
}

// Latest returns the most recent transaction of the order.
func (s *TransactionStore) Latest(ctx context.Context, orderID int64) (*payment.Transaction, error) {
	return getTxn(ctx, s.pool, selectLatestTxn, orderID)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	return loadOrder(ctx, t.tx, selectOrderForUpdate, orderID)
}

func (t *pgTx) Latest(ctx context.Context, orderID int64) (*payment.Transaction, error) {
	return getTxn(ctx, t.tx, selectLatestTxn, orderID)
}

func (t *pgTx) Insert(ctx context.Context, txn *payment.Transaction) error {
	err := t.tx.QueryRow(ctx, insertTxn, txn.OrderID, txn.ProviderTxnID, string(txn.Status), txn.Amount).
		Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, providerTxnConstraint) {
			return payment.ErrDuplicateTransaction
		}
		return wrap(err, "insert transaction")
	}
	return nil
}

func getTxn(ctx context.Context, db DBTX, sql string, args ...any) (*payment.Transaction, error) {
	var (
		t      payment.Transaction
		status string
	)
	err := db.QueryRow(ctx, sql, args...).Scan(&t.ID, &t.OrderID, &t.ProviderTxnID, &status, &t.Amount, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrTransactionNotFound
		}
		return nil, wrap(err, "get transaction")
	}
	t.Status = payment.Status(status)
	return &t, nil
}

// RecordedProviderIDs streams every recorded provider transaction id to fn.
func (s *TransactionStore) RecordedProviderIDs(ctx context.Context, fn func(id string) error) error {
	rows, err := s.pool.Query(ctx, `SELECT provider_txn_id FROM transactions`)
	if err != nil {
		return wrap(err, "query provider ids")
	}
	defer rows.Close()
	var id string
	_, err = pgx.ForEachRow(rows, []any{&id}, func() error { return fn(id) })
	if err != nil {
		return wrap(err, "scan provider ids")
	}
	return nil
}
