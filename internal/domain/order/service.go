package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/GaryWong163/Online-shop/internal/domain/pricing"
	"github.com/GaryWong163/Online-shop/internal/domain/product"
	"github.com/GaryWong163/Online-shop/pkg/retry"
)

// Sentinel errors for cart validation.
var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// InvalidQuantityError indicates a cart line with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID int64
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d for product %d must be greater than 0", e.Quantity, e.ProductID)
}

func (e *InvalidQuantityError) Is(target error) bool {
	return target == ErrInvalidQuantity
}

// ValidationError aggregates every problem found in a cart.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, p := range e.Problems() {
		msgs = append(msgs, p.Error())
	}
	return "invalid cart: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Problems returns the individual validation failures.
func (e *ValidationError) Problems() []error {
	return multierr.Errors(e.Err)
}

// Pricer prices cart lines.
type Pricer interface {
	Price(ctx context.Context, lines []pricing.Line) (*pricing.Quote, error)
}

// CommitRequest holds the input for committing a cart.
type CommitRequest struct {
	Lines  []pricing.Line
	UserID *string
}

// CommitResult holds the output of a committed order. Digest is returned for
// diagnostics only and is never accepted back from a client.
type CommitResult struct {
	OrderID  int64
	Digest   string
	Total    decimal.Decimal
	Currency string
	Lines    []pricing.LineQuote
}

// ServiceConfig holds the merchant binding for order digests.
type ServiceConfig struct {
	Currency string
	Merchant string
	Retry    retry.Policy
}

// Service validates carts and commits them as digest-protected orders.
type Service struct {
	pricer   Pricer
	orders   Repository
	digester Digester
	currency string
	retry    retry.Policy
	newSalt  func() (string, error)
}

// NewService creates an order Service.
func NewService(cfg ServiceConfig, pricer Pricer, orders Repository) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Service{
		pricer:   pricer,
		orders:   orders,
		digester: Digester{Merchant: cfg.Merchant},
		currency: cfg.Currency,
		retry:    cfg.Retry,
		newSalt:  NewSalt,
	}
}

// Digester returns the digester bound to this service's merchant.
func (s *Service) Digester() Digester { return s.digester }

// Commit validates the cart, prices it, and persists the order with its
// items and digest in one unit. Nothing is written when validation fails.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if len(req.Lines) == 0 {
		return nil, &ValidationError{Err: ErrEmptyCart}
	}

	var problems error
	for _, l := range req.Lines {
		if l.Quantity <= 0 {
			problems = multierr.Append(problems, &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity})
		}
	}

	quote, err := s.pricer.Price(ctx, req.Lines)
	if err != nil {
		if !errors.Is(err, product.ErrNotFound) {
			return nil, errors.Wrap(err, "price cart")
		}
		problems = multierr.Append(problems, err)
	}
	if problems != nil {
		return nil, &ValidationError{Err: problems}
	}

	salt, err := s.newSalt()
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(quote.Lines))
	for i, l := range quote.Lines {
		items[i] = Item{ProductID: l.ProductID, Quantity: l.Quantity, Price: l.CatalogPrice}
	}

	o := &Order{
		UserID: req.UserID,
		Total:  quote.Total,
		Salt:   salt,
		Digest: s.digester.Compute(s.currency, salt, items),
		Items:  items,
	}
	if err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.orders.Create(ctx, o)
	}); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	return &CommitResult{
		OrderID:  o.ID,
		Digest:   o.Digest,
		Total:    o.Total,
		Currency: s.currency,
		Lines:    quote.Lines,
	}, nil
}

// History returns the newest orders placed by userID.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Summary, error) {
	out, err := s.orders.ListSummaries(ctx, &userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return out, nil
}

// All returns the newest orders of every identity.
func (s *Service) All(ctx context.Context, limit int) ([]Summary, error) {
	out, err := s.orders.ListSummaries(ctx, nil, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return out, nil
}
