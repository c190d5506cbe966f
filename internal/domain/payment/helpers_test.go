package payment_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/GaryWong163/Online-shop/internal/domain/order"
	"github.com/GaryWong163/Online-shop/internal/domain/payment"
	"github.com/GaryWong163/Online-shop/internal/storage/memstore"
)

const merchant = "shop@example.com"

var digester = digesterFor(merchant)

func digesterFor(m string) order.Digester {
	return order.Digester{Merchant: m}
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// seedOrder commits a 2 x 50.00 order priced in USD.
func seedOrder(t *testing.T, s *memstore.Store) *order.Order {
	t.Helper()
	items := []order.Item{{ProductID: 1, Quantity: 2, Price: d("50.00")}}
	o := &order.Order{Total: d("100.00"), Salt: "0011", Items: items}
	o.Digest = digester.Compute("USD", o.Salt, items)
	require.NoError(t, s.Create(context.Background(), o))
	return o
}

func completed(o *order.Order, txnID string) payment.Notification {
	return payment.Notification{
		Channel:       payment.ChannelWebhook,
		EventType:     "PAYMENT.CAPTURE.COMPLETED",
		OrderID:       o.ID,
		ProviderTxnID: txnID,
		Status:        "COMPLETED",
		Amount:        o.Total,
		Currency:      "USD",
	}
}

// flakyStore injects failures in front of a memstore.
type flakyStore struct {
	*memstore.Store

	mu            sync.Mutex
	inTxErrs      []error
	findCompleted []error
	latestErrs    []error
	findCalls     int
	latestCalls   int
	onFind        func(call int)
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *flakyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx payment.Tx) error) error {
	f.mu.Lock()
	err := pop(&f.inTxErrs)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.InTx(ctx, fn)
}

func (f *flakyStore) FindCompleted(ctx context.Context, orderID int64) (*payment.Transaction, error) {
	f.mu.Lock()
	f.findCalls++
	call := f.findCalls
	err := pop(&f.findCompleted)
	hook := f.onFind
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	return f.Store.FindCompleted(ctx, orderID)
}

func (f *flakyStore) Latest(ctx context.Context, orderID int64) (*payment.Transaction, error) {
	f.mu.Lock()
	f.latestCalls++
	err := pop(&f.latestErrs)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Latest(ctx, orderID)
}
