// Package memstore is an in-process implementation of every repository,
// used by tests and local runs without PostgreSQL. Transactions are
// serialized by a single mutex, which is stricter than the per-order row
// locks of the PostgreSQL store.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/GaryWong163/Online-shop/internal/domain/discount"
	"github.com/GaryWong163/Online-shop/internal/domain/order"
	"github.com/GaryWong163/Online-shop/internal/domain/payment"
	"github.com/GaryWong163/Online-shop/internal/domain/product"
)

var (
	_ product.Repository  = (*Store)(nil)
	_ discount.Repository = (*Store)(nil)
	_ order.Repository    = (*Store)(nil)
	_ payment.Store       = (*Store)(nil)
)

// Store keeps all data in memory.
type Store struct {
	mu       sync.Mutex
	products map[int64]product.Product
	rules    map[int64]discount.Rule
	orders   map[int64]order.Order
	txns     []payment.Transaction

	lastProductID int64
	lastOrderID   int64
	lastTxnID     int64
	now           func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		products: make(map[int64]product.Product),
		rules:    make(map[int64]discount.Rule),
		orders:   make(map[int64]order.Order),
		now:      time.Now,
	}
}

// AddProduct stores p, assigning the next id when p.ID is zero.
func (s *Store) AddProduct(p product.Product) product.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.lastProductID++
		p.ID = s.lastProductID
	} else if p.ID > s.lastProductID {
		s.lastProductID = p.ID
	}
	s.products[p.ID] = p
	return p
}

// AddRule attaches r to its product, replacing any previous rule.
func (s *Store) AddRule(r discount.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = r.ProductID
	}
	s.rules[r.ProductID] = r
}

// Transactions returns a copy of every recorded transaction in insertion
// order.
func (s *Store) Transactions() []payment.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.txns)
}

// GetByIDs implements product.Repository.
func (s *Store) GetByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// List implements discount.Repository.
func (s *Store) List(_ context.Context) ([]discount.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]discount.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b discount.Rule) int { return int(a.ProductID - b.ProductID) })
	return out, nil
}

// ListByProductIDs implements discount.Repository.
func (s *Store) ListByProductIDs(_ context.Context, ids []int64) ([]discount.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []discount.Rule
	for _, id := range ids {
		if r, ok := s.rules[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Create implements order.Repository.
func (s *Store) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOrderID++
	o.ID = s.lastOrderID
	o.CreatedAt = s.now()
	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

// Get implements order.Repository.
func (s *Store) Get(_ context.Context, id int64) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

// ListSummaries implements order.Repository.
func (s *Store) ListSummaries(_ context.Context, userID *string, limit int) ([]order.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.orders))
	for id, o := range s.orders {
		if userID != nil && (o.UserID == nil || *o.UserID != *userID) {
			continue
		}
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b int64) int { return int(b - a) })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]order.Summary, 0, len(ids))
	for _, id := range ids {
		sum := order.Summary{Order: cloneOrder(s.orders[id])}
		if t, ok := latest(s.txns, id); ok {
			sum.PaymentStatus = string(t.Status)
		}
		out = append(out, sum)
	}
	return out, nil
}

// InTx implements payment.Store. fn runs with exclusive access to the store
// and its inserts become visible only if it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx payment.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for i, t := range tx.staged {
		s.lastTxnID++
		t.ID = s.lastTxnID
		tx.pending[i].ID = t.ID
		s.txns = append(s.txns, t)
	}
	return nil
}

// FindByProviderID implements payment.Store.
func (s *Store) FindByProviderID(_ context.Context, providerTxnID string) (*payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txns {
		if t.ProviderTxnID == providerTxnID {
			return &t, nil
		}
	}
	return nil, payment.ErrTransactionNotFound
}

// FindCompleted implements payment.Store.
func (s *Store) FindCompleted(_ context.Context, orderID int64) (*payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.txns) - 1; i >= 0; i-- {
		t := s.txns[i]
		if t.OrderID == orderID && t.Status == payment.StatusCompleted {
			return &t, nil
		}
	}
	return nil, payment.ErrTransactionNotFound
}

// Latest implements payment.Store.
func (s *Store) Latest(_ context.Context, orderID int64) (*payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := latest(s.txns, orderID); ok {
		return &t, nil
	}
	return nil, payment.ErrTransactionNotFound
}

type memTx struct {
	s       *Store
	staged  []payment.Transaction
	pending []*payment.Transaction
}

func (tx *memTx) LockOrder(_ context.Context, orderID int64) (*order.Order, error) {
	o, ok := tx.s.orders[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (tx *memTx) Latest(_ context.Context, orderID int64) (*payment.Transaction, error) {
	for i := len(tx.staged) - 1; i >= 0; i-- {
		if tx.staged[i].OrderID == orderID {
			t := tx.staged[i]
			return &t, nil
		}
	}
	if t, ok := latest(tx.s.txns, orderID); ok {
		return &t, nil
	}
	return nil, payment.ErrTransactionNotFound
}

func (tx *memTx) Insert(_ context.Context, t *payment.Transaction) error {
	for _, existing := range tx.s.txns {
		if existing.ProviderTxnID == t.ProviderTxnID {
			return payment.ErrDuplicateTransaction
		}
	}
	for _, existing := range tx.staged {
		if existing.ProviderTxnID == t.ProviderTxnID {
			return payment.ErrDuplicateTransaction
		}
	}
	t.CreatedAt = tx.s.now()
	tx.staged = append(tx.staged, *t)
	tx.pending = append(tx.pending, t)
	return nil
}

func latest(txns []payment.Transaction, orderID int64) (payment.Transaction, bool) {
	for i := len(txns) - 1; i >= 0; i-- {
		if txns[i].OrderID == orderID {
			return txns[i], true
		}
	}
	return payment.Transaction{}, false
}

func cloneOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	return o
}
