package handler_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GaryWong163/Online-shop/internal/domain/discount"
	"github.com/GaryWong163/Online-shop/internal/domain/order"
	"github.com/GaryWong163/Online-shop/internal/domain/payment"
	"github.com/GaryWong163/Online-shop/internal/domain/pricing"
	"github.com/GaryWong163/Online-shop/internal/domain/product"
	"github.com/GaryWong163/Online-shop/internal/gateway"
	"github.com/GaryWong163/Online-shop/internal/handler"
	"github.com/GaryWong163/Online-shop/internal/identity"
	"github.com/GaryWong163/Online-shop/internal/storage/memstore"
)

type testEnv struct {
	store   *memstore.Store
	router  chi.Router
	webhook *gateway.WebhookVerifier
	ids     *identity.Verifier
}

// newEnv wires a Handler over a memstore holding a 50.00 mug (id 1) and a
// 10.00 sticker (id 2) with a buy 2 get 1 free rule. The IPN verifier posts
// to a fake provider answering ipnAnswer.
func newEnv(t *testing.T, ipnAnswer string) *testEnv {
	t.Helper()

	store := memstore.New()
	store.AddProduct(product.Product{ID: 1, Name: "Mug", Price: decimal.RequireFromString("50.00")})
	store.AddProduct(product.Product{ID: 2, Name: "Sticker", Price: decimal.RequireFromString("10.00")})
	store.AddRule(discount.Rule{
		ProductID:    2,
		Type:         discount.TypeBuyXGetYFree,
		Description:  "Buy 2 get 1 free",
		BuyXGetYFree: &discount.BuyXGetYFree{Buy: 2, Free: 1},
	})

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ipnAnswer))
	}))
	t.Cleanup(provider.Close)

	orders := order.NewService(order.ServiceConfig{Currency: "USD", Merchant: "shop@example.com"},
		pricing.NewEngine(store, store), store)
	webhook := gateway.NewWebhookVerifier("whsec", 5*time.Minute)
	ids := identity.NewVerifier(identity.Config{Secret: "jwt-secret"})

	h := handler.New(handler.Config{}, handler.Deps{
		Orders:          orders,
		Discounts:       store,
		Ingestor:        payment.NewIngestor(store, orders.Digester()),
		Reconciler:      payment.NewReconciler(store, payment.ReconcilerConfig{Attempts: 2, Interval: time.Millisecond}),
		Status:          payment.NewStatusService(store, payment.StatusConfig{Attempts: 1, Interval: time.Millisecond}),
		WebhookVerifier: webhook,
		IPNVerifier:     gateway.NewIPNVerifier(provider.URL, provider.Client()),
		Identity:        ids,
	})
	r := chi.NewRouter()
	h.Mount(r)
	h.MountCallbacks(r)

	return &testEnv{store: store, router: r, webhook: webhook, ids: ids}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) token(t *testing.T, id identity.Identity) string {
	t.Helper()
	tok, err := e.ids.Mint(id, time.Now(), time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) commit(t *testing.T, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.do(req)
}

// commitMugs commits two mugs and returns the order id.
func (e *testEnv) commitMugs(t *testing.T) int64 {
	t.Helper()
	rec := e.commit(t, `{"cart":[{"productId":1,"quantity":2}]}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var id int64
	require.NoError(t, jx.DecodeBytes(rec.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "orderId" {
			return d.Skip()
		}
		v, err := d.Int64()
		id = v
		return err
	}))
	require.NotZero(t, id)
	return id
}

func webhookBody(orderID int64, txnID, amount, currency string) string {
	return `{"id":"WH-` + txnID + `","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{` +
		`"id":"` + txnID + `","status":"COMPLETED","custom_id":"` + strconv.FormatInt(orderID, 10) + `",` +
		`"amount":{"value":"` + amount + `","currency_code":"` + currency + `"}}}`
}

func (e *testEnv) postWebhook(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(body))
	req.Header.Set(gateway.SignatureHeader, e.webhook.Sign([]byte(body), time.Now()))
	return e.do(req)
}

func location(t *testing.T, rec *httptest.ResponseRecorder) (string, url.Values) {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, rec.Code)
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return u.Path, u.Query()
}

func TestCommitOrder(t *testing.T) {
	e := newEnv(t, "VERIFIED")

	rec := e.commit(t, `{"items":[{"productId":"2","quantity":3},{"productId":1,"quantity":1}]}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Contains(t, body, `"total":70.00`)
	assert.Contains(t, body, `"currency":"USD"`)
	assert.Contains(t, body, `"discount":"buy_x_get_y_free"`)
	assert.Contains(t, body, `"digest":"`)
}

func TestCommitOrder_Validation(t *testing.T) {
	e := newEnv(t, "VERIFIED")

	for _, tt := range []struct {
		name string
		body string
		want int
		in   string
	}{
		{"Empty", `{"cart":[]}`, http.StatusBadRequest, "cart is empty"},
		{"ZeroQuantity", `{"cart":[{"productId":1,"quantity":0}]}`, http.StatusBadRequest, "must be greater than 0"},
		{"UnknownProduct", `{"cart":[{"productId":99,"quantity":1}]}`, http.StatusBadRequest, "product 99 not found"},
		{"Malformed", `{"cart":`, http.StatusBadRequest, "malformed cart"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.commit(t, tt.body, "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.in)
		})
	}
	assert.Empty(t, e.store.Transactions())
}

func TestWebhook_RecordsPayment(t *testing.T) {
	e := newEnv(t, "VERIFIED")
	id := e.commitMugs(t)

	rec := e.postWebhook(webhookBody(id, "CAP-1", "100.00", "USD"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"recorded"}`, rec.Body.String())

	rec = e.postWebhook(webhookBody(id, "CAP-1", "100.00", "USD"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, rec.Body.String())
	require.Len(t, e.store.Transactions(), 1)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/payments/status?orderId="+strconv.FormatInt(id, 10), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"paymentStatus":"Completed"}`, rec.Body.String())

	path, q := location(t, e.do(httptest.NewRequest(http.MethodGet, "/checkout/success?invoice="+strconv.FormatInt(id, 10), nil)))
	assert.Equal(t, "/order-confirmation", path)
	assert.Equal(t, "success", q.Get("status"))
	assert.Equal(t, strconv.FormatInt(id, 10), q.Get("orderId"))
}

func TestWebhook_Rejections(t *testing.T) {
	e := newEnv(t, "VERIFIED")
	id := e.commitMugs(t)

	t.Run("BadSignature", func(t *testing.T) {
		body := webhookBody(id, "CAP-1", "100.00", "USD")
		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(body))
		req.Header.Set(gateway.SignatureHeader, "t=1,v1=deadbeef")
		assert.Equal(t, http.StatusUnauthorized, e.do(req).Code)
	})
	t.Run("UnsupportedEvent", func(t *testing.T) {
		rec := e.postWebhook(`{"id":"WH-9","event_type":"CUSTOMER.DISPUTE.CREATED","resource":{}}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
	})
	t.Run("Malformed", func(t *testing.T) {
		rec := e.postWebhook(`{"id":"WH-9","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-2"}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("AmountMismatch", func(t *testing.T) {
		rec := e.postWebhook(webhookBody(id, "CAP-3", "90.00", "USD"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"integrity check failed","reason":"amount_mismatch"}`, rec.Body.String())
	})
	t.Run("DigestMismatch", func(t *testing.T) {
		rec := e.postWebhook(webhookBody(id, "CAP-4", "100.00", "EUR"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"integrity check failed","reason":"digest_mismatch"}`, rec.Body.String())
	})
	t.Run("UnknownOrder", func(t *testing.T) {
		rec := e.postWebhook(webhookBody(id+100, "CAP-5", "100.00", "USD"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"order not found"}`, rec.Body.String())
	})

	assert.Empty(t, e.store.Transactions())
}

func ipnForm(orderID int64, txnID string) string {
	return url.Values{
		"txn_type":       {"web_accept"},
		"txn_id":         {txnID},
		"custom":         {strconv.FormatInt(orderID, 10)},
		"payment_status": {"Completed"},
		"mc_gross":       {"100.00"},
		"mc_currency":    {"USD"},
	}.Encode()
}

func TestIPN(t *testing.T) {
	t.Run("Verified", func(t *testing.T) {
		e := newEnv(t, "VERIFIED")
		id := e.commitMugs(t)

		rec := e.do(httptest.NewRequest(http.MethodPost, "/api/payments/ipn", strings.NewReader(ipnForm(id, "IPN-1"))))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"status":"recorded"}`, rec.Body.String())

		txns := e.store.Transactions()
		require.Len(t, txns, 1)
		assert.Equal(t, "IPN-1", txns[0].ProviderTxnID)
	})
	t.Run("Invalid", func(t *testing.T) {
		e := newEnv(t, "INVALID")
		id := e.commitMugs(t)

		rec := e.do(httptest.NewRequest(http.MethodPost, "/api/payments/ipn", strings.NewReader(ipnForm(id, "IPN-1"))))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, e.store.Transactions())
	})
	t.Run("ProviderConfused", func(t *testing.T) {
		e := newEnv(t, "MAYBE")
		id := e.commitMugs(t)

		rec := e.do(httptest.NewRequest(http.MethodPost, "/api/payments/ipn", strings.NewReader(ipnForm(id, "IPN-1"))))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
	t.Run("Empty", func(t *testing.T) {
		e := newEnv(t, "VERIFIED")
		rec := e.do(httptest.NewRequest(http.MethodPost, "/api/payments/ipn", strings.NewReader("")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPaymentStatus(t *testing.T) {
	e := newEnv(t, "VERIFIED")
	id := e.commitMugs(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/payments/status?orderId="+strconv.FormatInt(id, 10), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"no transaction found"}`, rec.Body.String())

	for _, q := range []string{"", "?orderId=abc", "?orderId=-1"} {
		rec := e.do(httptest.NewRequest(http.MethodGet, "/api/payments/status"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestCheckoutSuccess_Pending(t *testing.T) {
	e := newEnv(t, "VERIFIED")
	id := e.commitMugs(t)
	ref := strconv.FormatInt(id, 10)

	_, q := location(t, e.do(httptest.NewRequest(http.MethodGet, "/checkout/success?invoice="+ref, nil)))
	assert.Equal(t, "error", q.Get("status"))
	assert.Equal(t, payment.StatusReason(payment.StatusPending), q.Get("reason"))
	assert.Equal(t, ref, q.Get("orderId"))

	txns := e.store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, payment.StatusPending, txns[0].Status)
	assert.True(t, decimal.RequireFromString("100.00").Equal(txns[0].Amount))

	// A late completion still lands and wins the next status query.
	require.Equal(t, http.StatusOK, e.postWebhook(webhookBody(id, "CAP-LATE", "100.00", "USD")).Code)
	_, q = location(t, e.do(httptest.NewRequest(http.MethodGet, "/checkout/success?invoice="+ref, nil)))
	assert.Equal(t, "success", q.Get("status"))
}

func TestCheckoutSuccess_Unresolvable(t *testing.T) {
	e := newEnv(t, "VERIFIED")

	for _, tt := range []struct {
		name   string
		query  string
		reason string
		order  string
	}{
		{"MissingInvoice", "", payment.ReasonMissingReference, ""},
		{"GarbageInvoice", "?invoice=abc", payment.ReasonMissingReference, ""},
		{"UnknownOrder", "?invoice=404", payment.ReasonNoOrder, "404"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, q := location(t, e.do(httptest.NewRequest(http.MethodGet, "/checkout/success"+tt.query, nil)))
			assert.Equal(t, "error", q.Get("status"))
			assert.Equal(t, tt.reason, q.Get("reason"))
			assert.Equal(t, tt.order, q.Get("orderId"))
		})
	}
	assert.Empty(t, e.store.Transactions())
}

func TestCheckoutCancel(t *testing.T) {
	e := newEnv(t, "VERIFIED")
	path, q := location(t, e.do(httptest.NewRequest(http.MethodGet, "/checkout/cancel?token=abc", nil)))
	assert.Equal(t, "/order-confirmation", path)
	assert.Equal(t, "cancelled", q.Get("status"))
}

func TestOrderHistory(t *testing.T) {
	e := newEnv(t, "VERIFIED")
	alice := e.token(t, identity.Identity{UserID: "alice", Role: identity.RoleUser})
	admin := e.token(t, identity.Identity{UserID: "root", Role: identity.RoleAdmin})

	require.Equal(t, http.StatusOK, e.commit(t, `{"cart":[{"productId":1,"quantity":1}]}`, alice).Code)
	e.commitMugs(t)
	// A broken token degrades to a guest checkout.
	require.Equal(t, http.StatusOK, e.commit(t, `{"cart":[{"productId":1,"quantity":1}]}`, "garbage").Code)

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.AddCookie(&http.Cookie{Name: "authToken", Value: token})
		}
		return e.do(req)
	}

	assert.Equal(t, http.StatusUnauthorized, get("/api/orders/mine", "").Code)

	rec := get("/api/orders/mine", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), `"orderId"`))
	assert.Contains(t, rec.Body.String(), `"userId":"alice"`)
	assert.Contains(t, rec.Body.String(), `"paymentStatus":null`)

	assert.Equal(t, http.StatusUnauthorized, get("/api/admin/orders", "").Code)
	assert.Equal(t, http.StatusForbidden, get("/api/admin/orders", alice).Code)

	rec = get("/api/admin/orders", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, strings.Count(rec.Body.String(), `"orderId"`))
}

func TestListDiscounts(t *testing.T) {
	e := newEnv(t, "VERIFIED")
	e.store.AddRule(discount.Rule{
		ProductID:   1,
		Type:        discount.TypeTiered,
		Description: "Three for 120",
		Tiers:       []discount.Tier{{Quantity: 3, TotalPrice: decimal.RequireFromString("120")}},
	})

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/discounts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"id":1,"productId":1,"type":"tiered_pricing","description":"Three for 120","tiers":[{"quantity":3,"totalPrice":120.00}]},
		{"id":2,"productId":2,"type":"buy_x_get_y_free","description":"Buy 2 get 1 free","buy":2,"free":1}
	]`, rec.Body.String())
}

func TestCommitOrder_BodyTooLarge(t *testing.T) {
	store := memstore.New()
	orders := order.NewService(order.ServiceConfig{}, pricing.NewEngine(store, store), store)
	h := handler.New(handler.Config{MaxBodyBytes: 16}, handler.Deps{Orders: orders, Discounts: store})
	r := chi.NewRouter()
	h.Mount(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders",
		strings.NewReader(`{"cart":[{"productId":1,"quantity":1}]}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
