package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is a committed cart. Total, Digest, Salt and Items never change once
// the order is created.
type Order struct {
	ID int64
	// UserID is the identity that placed the order, nil for guest checkout.
	UserID    *string
	Total     decimal.Decimal
	Digest    string
	Salt      string
	CreatedAt time.Time
	Items     []Item
}

// Item is one captured cart line. Price is the undiscounted catalog unit
// price at the moment of commitment.
type Item struct {
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
}

// Summary is an order together with the status of its most recent payment
// transaction. PaymentStatus is empty when nothing has been recorded.
type Summary struct {
	Order         Order
	PaymentStatus string
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order and its items atomically and fills in ID and
	// CreatedAt.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	// ListSummaries returns the newest orders first. A nil userID lists
	// orders of every identity.
	ListSummaries(ctx context.Context, userID *string, limit int) ([]Summary, error)
}
