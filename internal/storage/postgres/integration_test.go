//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/GaryWong163/Online-shop/internal/domain/discount"
	"github.com/GaryWong163/Online-shop/internal/domain/order"
	"github.com/GaryWong163/Online-shop/internal/domain/payment"
	"github.com/GaryWong163/Online-shop/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	ctr, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = ctr.Terminate(context.Background()) }()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://shop:shop@%s:%s/shop?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	return m.Run()
}

func seedCatalog(t *testing.T) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	products := NewProductRepository(testPool)

	lamp := product.Product{Name: "Lamp", Price: decimal.RequireFromString("50.00")}
	require.NoError(t, products.Upsert(ctx, &lamp))
	mug := product.Product{Name: "Mug", Price: decimal.RequireFromString("12.50")}
	require.NoError(t, products.Upsert(ctx, &mug))

	rule := discount.Rule{
		ProductID:   mug.ID,
		Type:        discount.TypeTiered,
		Description: "three for 30",
		Tiers:       []discount.Tier{{Quantity: 3, TotalPrice: decimal.RequireFromString("30")}},
	}
	require.NoError(t, NewDiscountRepository(testPool).Upsert(ctx, &rule))
	require.NotZero(t, rule.ID)
	return lamp.ID, mug.ID
}

func TestProductRepository_UpsertExplicitID(t *testing.T) {
	ctx := context.Background()
	products := NewProductRepository(testPool)

	fixed := product.Product{ID: 9000, Name: "Poster", Price: decimal.RequireFromString("5.00")}
	require.NoError(t, products.Upsert(ctx, &fixed))
	fixed.Price = decimal.RequireFromString("6.00")
	require.NoError(t, products.Upsert(ctx, &fixed))

	got, err := products.GetByIDs(ctx, []int64{9000})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, decimal.RequireFromString("6.00").Equal(got[0].Price))

	next := product.Product{Name: "Frame", Price: decimal.RequireFromString("7.00")}
	require.NoError(t, products.Upsert(ctx, &next))
	assert.Greater(t, next.ID, int64(9000))
}

func createOrder(t *testing.T, productID int64, user *string) *order.Order {
	t.Helper()
	o := &order.Order{
		UserID: user,
		Total:  decimal.RequireFromString("100.00"),
		Digest: "d",
		Salt:   "s",
		Items:  []order.Item{{ProductID: productID, Quantity: 2, Price: decimal.RequireFromString("50.00")}},
	}
	require.NoError(t, NewOrderRepository(testPool).Create(context.Background(), o))
	require.NotZero(t, o.ID)
	return o
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	a, b := seedCatalog(t)

	products, err := NewProductRepository(testPool).GetByIDs(ctx, []int64{a, b, -1})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Lamp", products[0].Name)

	rules, err := NewDiscountRepository(testPool).ListByProductIDs(ctx, []int64{a, b})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, b, rules[0].ProductID)
	require.Len(t, rules[0].Tiers, 1)
	assert.Equal(t, 3, rules[0].Tiers[0].Quantity)
}

func TestOrderRepository(t *testing.T) {
	ctx := context.Background()
	a, _ := seedCatalog(t)
	user := "user-1"
	o := createOrder(t, a, &user)

	got, err := NewOrderRepository(testPool).Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, user, *got.UserID)
	assert.Equal(t, o.Items[0].ProductID, got.Items[0].ProductID)
	assert.True(t, o.Total.Equal(got.Total))

	_, err = NewOrderRepository(testPool).Get(ctx, -1)
	require.ErrorIs(t, err, order.ErrNotFound)

	store := NewTransactionStore(testPool)
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx payment.Tx) error {
		return tx.Insert(ctx, &payment.Transaction{
			OrderID: o.ID, ProviderTxnID: fmt.Sprintf("SUM-%d", o.ID),
			Status: payment.StatusCompleted, Amount: o.Total,
		})
	}))

	sums, err := NewOrderRepository(testPool).ListSummaries(ctx, &user, 5)
	require.NoError(t, err)
	require.NotEmpty(t, sums)
	assert.Equal(t, o.ID, sums[0].Order.ID)
	assert.Equal(t, "Completed", sums[0].PaymentStatus)
}

func TestTransactionStore_Duplicate(t *testing.T) {
	ctx := context.Background()
	a, _ := seedCatalog(t)
	o := createOrder(t, a, nil)
	store := NewTransactionStore(testPool)
	txnID := fmt.Sprintf("DUP-%d", o.ID)

	insert := func() error {
		return store.InTx(ctx, func(ctx context.Context, tx payment.Tx) error {
			_, err := tx.LockOrder(ctx, o.ID)
			if err != nil {
				return err
			}
			return tx.Insert(ctx, &payment.Transaction{
				OrderID: o.ID, ProviderTxnID: txnID, Status: payment.StatusCompleted, Amount: o.Total,
			})
		})
	}
	require.NoError(t, insert())
	require.ErrorIs(t, insert(), payment.ErrDuplicateTransaction)

	found, err := store.FindByProviderID(ctx, txnID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.OrderID)

	completed, err := store.FindCompleted(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, found.ID, completed.ID)
}

func TestTransactionStore_ConcurrentWritersSerialize(t *testing.T) {
	ctx := context.Background()
	a, _ := seedCatalog(t)
	o := createOrder(t, a, nil)
	store := NewTransactionStore(testPool)

	// Each writer inserts only when the order has no transaction yet.
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InTx(ctx, func(ctx context.Context, tx payment.Tx) error {
				if _, err := tx.LockOrder(ctx, o.ID); err != nil {
					return err
				}
				if _, err := tx.Latest(ctx, o.ID); err == nil {
					return nil
				}
				return tx.Insert(ctx, &payment.Transaction{
					OrderID: o.ID, ProviderTxnID: fmt.Sprintf("RACE-%d-%d", o.ID, i),
					Status: payment.StatusPending, Amount: o.Total,
				})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var n int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE order_id = $1`, o.ID).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRecordedProviderIDs(t *testing.T) {
	ctx := context.Background()
	a, _ := seedCatalog(t)
	o := createOrder(t, a, nil)
	store := NewTransactionStore(testPool)
	want := fmt.Sprintf("AUDIT-%d", o.ID)
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx payment.Tx) error {
		return tx.Insert(ctx, &payment.Transaction{OrderID: o.ID, ProviderTxnID: want, Status: payment.StatusCompleted, Amount: o.Total})
	}))

	seen := map[string]bool{}
	require.NoError(t, store.RecordedProviderIDs(ctx, func(id string) error {
		seen[id] = true
		return nil
	}))
	assert.True(t, seen[want])
}

func TestTransactionStore_LatestFollowsInsertOrder(t *testing.T) {
	ctx := context.Background()
	a, _ := seedCatalog(t)
	user := "user-latest"
	o := createOrder(t, a, &user)
	store := NewTransactionStore(testPool)

	insert := func(id string, status payment.Status) *payment.Transaction {
		txn := &payment.Transaction{OrderID: o.ID, ProviderTxnID: id, Status: status, Amount: o.Total}
		require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx payment.Tx) error {
			if _, err := tx.LockOrder(ctx, o.ID); err != nil {
				return err
			}
			return tx.Insert(ctx, txn)
		}))
		return txn
	}
	insert(fmt.Sprintf("WEBHOOK-PENDING-%d", o.ID), payment.StatusPending)
	completed := insert(fmt.Sprintf("LATE-%d", o.ID), payment.StatusCompleted)

	// A writer that queued on the order lock carries the start time of its
	// transaction, which can be earlier than the row committed before it.
	_, err := testPool.Exec(ctx, `UPDATE transactions SET created_at = created_at - interval '1 minute' WHERE id = $1`, completed.ID)
	require.NoError(t, err)

	latest, err := store.Latest(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, completed.ID, latest.ID)
	assert.Equal(t, payment.StatusCompleted, latest.Status)

	sums, err := NewOrderRepository(testPool).ListSummaries(ctx, &user, 5)
	require.NoError(t, err)
	require.NotEmpty(t, sums)
	assert.Equal(t, "Completed", sums[0].PaymentStatus)
}
