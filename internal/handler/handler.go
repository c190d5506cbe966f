// Package handler exposes the shop over HTTP.
package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/GaryWong163/Online-shop/internal/domain/discount"
	"github.com/GaryWong163/Online-shop/internal/domain/order"
	"github.com/GaryWong163/Online-shop/internal/domain/payment"
	"github.com/GaryWong163/Online-shop/internal/gateway"
	"github.com/GaryWong163/Online-shop/internal/identity"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ConfirmationPath is the storefront page checkout redirects land on.
	ConfirmationPath string
	// HistoryLimit caps GET /api/orders/mine.
	HistoryLimit int
	// AdminLimit caps GET /api/admin/orders.
	AdminLimit int
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
	// Currency is assumed for provider notifications that name none.
	Currency string
}

func (c *Config) setDefaults() {
	if c.ConfirmationPath == "" {
		c.ConfirmationPath = "/order-confirmation"
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 5
	}
	if c.AdminLimit <= 0 {
		c.AdminLimit = 100
	}
	if c.Currency == "" {
		c.Currency = gateway.DefaultCurrency
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

// Deps are the services the Handler delegates to.
type Deps struct {
	Orders          *order.Service
	Discounts       discount.Repository
	Ingestor        *payment.Ingestor
	Reconciler      *payment.Reconciler
	Status          *payment.StatusService
	WebhookVerifier *gateway.WebhookVerifier
	IPNVerifier     *gateway.IPNVerifier
	// Identity is optional; without it every caller is a guest.
	Identity *identity.Verifier
}

// Handler serves the storefront and payment provider endpoints.
type Handler struct {
	Deps
	cfg Config
}

// New constructs a Handler.
func New(cfg Config, deps Deps) *Handler {
	cfg.setDefaults()
	return &Handler{Deps: deps, cfg: cfg}
}

// Mount registers the storefront routes on r. Provider callbacks are
// registered separately by MountCallbacks so they can bypass rate limiting.
func (h *Handler) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Post("/api/orders", h.CommitOrder)
		r.Get("/api/discounts", h.ListDiscounts)
		r.With(RequireUser).Get("/api/orders/mine", h.MyOrders)
		r.With(RequireAdmin).Get("/api/admin/orders", h.AllOrders)
	})
	r.Get("/api/payments/status", h.PaymentStatus)
	r.Get("/checkout/success", h.CheckoutSuccess)
	r.Get("/checkout/cancel", h.CheckoutCancel)
}

// MountCallbacks registers the payment provider endpoints on r.
func (h *Handler) MountCallbacks(r chi.Router) {
	r.Post("/api/payments/webhook", h.Webhook)
	r.Post("/api/payments/ipn", h.IPN)
}

// readBody reads the whole request body within MaxBodyBytes. It answers the
// request itself and reports false on failure.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, code int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, code, &e)
}

// internalError logs err and answers 500 without leaking its text.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	zctx.From(r.Context()).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}
