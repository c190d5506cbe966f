package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GaryWong163/Online-shop/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const (
	insertOrder = `INSERT INTO orders (user_id, total, digest, salt)
VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	insertOrderItem = `INSERT INTO order_items (order_id, line_no, product_id, quantity, price)
VALUES ($1, $2, $3, $4, $5)`

	selectOrder = `SELECT id, user_id, total, digest, salt, created_at FROM orders WHERE id = $1`

	selectOrderForUpdate = selectOrder + ` FOR UPDATE`

	selectOrderItems = `SELECT product_id, quantity, price FROM order_items
WHERE order_id = $1 ORDER BY line_no`

	listSummaries = `SELECT o.id, o.user_id, o.total, o.digest, o.salt, o.created_at,
       COALESCE(t.payment_status, '')
FROM orders o
LEFT JOIN LATERAL (
    SELECT payment_status FROM transactions
    WHERE order_id = o.id
    ORDER BY id DESC
    LIMIT 1
) t ON true
WHERE $1::text IS NULL OR o.user_id = $1
ORDER BY o.created_at DESC, o.id DESC
LIMIT $2`
)

// Create persists the order header and its items in one transaction. Items
// keep their cart order through line_no.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, insertOrder, o.UserID, o.Total, o.Digest, o.Salt).
			Scan(&o.ID, &o.CreatedAt); err != nil {
			return errors.Wrap(err, "insert order")
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(insertOrderItem, o.ID, i, it.ProductID, it.Quantity, it.Price)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "insert order items")
		}
		return nil
	})
	if err != nil {
		o.ID = 0
		return wrap(err, "create order")
	}
	return nil
}

// Get returns the order with its items.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	o, err := loadOrder(ctx, r.pool, selectOrder, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListSummaries returns the newest orders with the status of their most
// recent transaction.
func (r *OrderRepository) ListSummaries(ctx context.Context, userID *string, limit int) ([]order.Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, listSummaries, userID, limit)
	if err != nil {
		return nil, wrap(err, "query order summaries")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Summary, error) {
		var s order.Summary
		err := row.Scan(&s.Order.ID, &s.Order.UserID, &s.Order.Total, &s.Order.Digest,
			&s.Order.Salt, &s.Order.CreatedAt, &s.PaymentStatus)
		return s, err
	})
	if err != nil {
		return nil, wrap(err, "scan order summaries")
	}
	for i := range out {
		items, err := loadItems(ctx, r.pool, out[i].Order.ID)
		if err != nil {
			return nil, err
		}
		out[i].Order.Items = items
	}
	return out, nil
}

func loadOrder(ctx context.Context, db DBTX, sql string, id int64) (*order.Order, error) {
	var o order.Order
	err := db.QueryRow(ctx, sql, id).Scan(&o.ID, &o.UserID, &o.Total, &o.Digest, &o.Salt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, wrap(err, "get order")
	}
	items, err := loadItems(ctx, db, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func loadItems(ctx context.Context, db DBTX, orderID int64) ([]order.Item, error) {
	rows, err := db.Query(ctx, selectOrderItems, orderID)
	if err != nil {
		return nil, wrap(err, "query order items")
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ProductID, &it.Quantity, &it.Price)
		return it, err
	})
	if err != nil {
		return nil, wrap(err, "scan order items")
	}
	return items, nil
}
