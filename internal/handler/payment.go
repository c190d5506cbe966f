package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/GaryWong163/Online-shop/internal/domain/payment"
	"github.com/GaryWong163/Online-shop/internal/gateway"
	"github.com/GaryWong163/Online-shop/pkg/retry"
)

// Webhook handles POST /api/payments/webhook.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	lg := zctx.From(r.Context())

	if err := h.WebhookVerifier.Verify(r.Header.Get(gateway.SignatureHeader), body); err != nil {
		lg.Warn("Webhook signature rejected", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	ev, err := gateway.ParseWebhook(body, h.cfg.Currency)
	if err != nil {
		lg.Warn("Malformed webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "malformed notification")
		return
	}
	if !ev.Supported {
		lg.Info("Webhook event ignored", zap.String("event_type", ev.EventType), zap.String("event_id", ev.ID))
		writeOutcome(w, payment.OutcomeIgnored)
		return
	}

	h.ingest(w, r, ev.Notification)
}

// IPN handles POST /api/payments/ipn.
func (h *Handler) IPN(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	lg := zctx.From(r.Context())

	if err := h.IPNVerifier.Verify(r.Context(), body); err != nil {
		switch {
		case errors.Is(err, gateway.ErrSignature):
			lg.Warn("IPN rejected by provider", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid notification")
		case errors.Is(err, gateway.ErrMalformed):
			writeError(w, http.StatusBadRequest, "malformed notification")
		default:
			lg.Warn("IPN verification unavailable", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "verification unavailable")
		}
		return
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed notification")
		return
	}
	n, err := gateway.ParseIPN(values, h.cfg.Currency)
	if err != nil {
		lg.Warn("Malformed IPN", zap.Error(err))
		writeError(w, http.StatusBadRequest, "malformed notification")
		return
	}

	h.ingest(w, r, n)
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, n payment.Notification) {
	lg := zctx.From(r.Context()).With(
		zap.String("channel", string(n.Channel)),
		zap.Int64("order_id", n.OrderID),
		zap.String("provider_txn_id", n.ProviderTxnID),
	)

	outcome, err := h.Ingestor.Ingest(r.Context(), n)
	if err == nil {
		writeOutcome(w, outcome)
		return
	}

	var integrity *payment.IntegrityError
	switch {
	case errors.Is(err, payment.ErrInFlight):
		writeError(w, http.StatusConflict, "notification is being processed")
	case errors.Is(err, payment.ErrOrderNotFound):
		lg.Warn("Notification for unknown order")
		writeError(w, http.StatusBadRequest, "order not found")
	case errors.As(err, &integrity):
		lg.Error("Integrity failure", zap.String("reason", integrity.Reason))
		var e jx.Encoder
		e.Obj(func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) { e.Str("integrity check failed") })
			e.Field("reason", func(e *jx.Encoder) { e.Str(integrity.Reason) })
		})
		writeJSON(w, http.StatusBadRequest, &e)
	case retry.IsTransient(err):
		lg.Warn("Transient failure while ingesting", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		internalError(w, r, "Ingest notification", err)
	}
}

func writeOutcome(w http.ResponseWriter, o payment.Outcome) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o)) })
	})
	writeJSON(w, http.StatusOK, &e)
}

// PaymentStatus handles GET /api/payments/status?orderId=.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.URL.Query().Get("orderId"), 10, 64)
	if err != nil || orderID <= 0 {
		writeError(w, http.StatusBadRequest, "orderId must be a positive integer")
		return
	}

	t, err := h.Status.Status(r.Context(), orderID)
	switch {
	case errors.Is(err, payment.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "no transaction found")
		return
	case err != nil:
		internalError(w, r, "Payment status", err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(t.Status)) })
	})
	writeJSON(w, http.StatusOK, &e)
}
