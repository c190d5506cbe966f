// Package payment reconciles provider payment notifications with committed
// orders.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/GaryWong163/Online-shop/internal/domain/order"
)

var (
	// ErrTransactionNotFound is returned when no transaction matches.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateTransaction is returned by inserts that hit the unique
	// provider transaction id.
	ErrDuplicateTransaction = errors.New("duplicate provider transaction id")
	// ErrInFlight is returned when another delivery of the same provider
	// transaction is being processed right now.
	ErrInFlight = errors.New("notification already in flight")
	// ErrIntegrity matches every *IntegrityError.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrOrderNotFound is returned when a notification references an
	// unknown order.
	ErrOrderNotFound = order.ErrNotFound
)

// Integrity failure reasons.
const (
	ReasonDigestMismatch = "digest_mismatch"
	ReasonAmountMismatch = "amount_mismatch"
)

// IntegrityError reports a notification that does not match the committed
// order. It is distinct from an authenticity failure of the notification
// itself.
type IntegrityError struct {
	OrderID int64
	Reason  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("order %d: %s", e.OrderID, e.Reason)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// Status is the normalized payment status vocabulary.
type Status string

// Known statuses.
const (
	StatusCompleted Status = "Completed"
	StatusPending   Status = "Pending"
	StatusFailed    Status = "Failed"
	StatusDenied    Status = "Denied"
	StatusRefunded  Status = "Refunded"
	StatusReversed  Status = "Reversed"
	StatusCanceled  Status = "Canceled"
	StatusUnknown   Status = "Unknown"
)

// NormalizeStatus maps a provider status case-insensitively onto Status.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed":
		return StatusCompleted
	case "pending":
		return StatusPending
	case "failed":
		return StatusFailed
	case "denied", "declined":
		return StatusDenied
	case "refunded":
		return StatusRefunded
	case "reversed":
		return StatusReversed
	case "canceled", "cancelled", "voided":
		return StatusCanceled
	default:
		return StatusUnknown
	}
}

// Transaction is one recorded payment event. Rows are never updated.
type Transaction struct {
	ID            int64
	OrderID       int64
	ProviderTxnID string
	Status        Status
	Amount        decimal.Decimal
	CreatedAt     time.Time
}

// Tx is the set of operations available inside one storage transaction.
type Tx interface {
	// LockOrder loads the order with its items and holds a row lock on it
	// until the transaction ends. Returns order.ErrNotFound when missing.
	LockOrder(ctx context.Context, orderID int64) (*order.Order, error)
	// Latest returns the most recent transaction of the order.
	Latest(ctx context.Context, orderID int64) (*Transaction, error)
	// Insert stores t and fills in ID and CreatedAt. Returns
	// ErrDuplicateTransaction when the provider id is already recorded.
	Insert(ctx context.Context, t *Transaction) error
}

// Store persists transactions.
type Store interface {
	// InTx runs fn in one storage transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	FindByProviderID(ctx context.Context, providerTxnID string) (*Transaction, error)
	// FindCompleted returns the most recent Completed transaction of the order.
	FindCompleted(ctx context.Context, orderID int64) (*Transaction, error)
	Latest(ctx context.Context, orderID int64) (*Transaction, error)
}

// Locker is a short-lived lock keyed by provider transaction id.
type Locker interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Publisher announces recorded payments to other services.
type Publisher interface {
	PaymentRecorded(ctx context.Context, t Transaction) error
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
