package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/GaryWong163/Online-shop/internal/domain/payment"
)

// CheckoutSuccess handles the provider return URL. It waits for the
// payment to be confirmed and redirects to the confirmation page.
func (h *Handler) CheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.URL.Query().Get("invoice"), 10, 64)
	if err != nil || orderID <= 0 {
		h.redirect(w, r, url.Values{"status": {"error"}, "reason": {payment.ReasonMissingReference}})
		return
	}
	ref := strconv.FormatInt(orderID, 10)

	res, err := h.Reconciler.Reconcile(r.Context(), orderID)
	if err != nil {
		if r.Context().Err() != nil {
			zctx.From(r.Context()).Debug("Client left before reconciliation finished", zap.Int64("order_id", orderID))
			return
		}
		zctx.From(r.Context()).Error("Reconcile order", zap.Int64("order_id", orderID), zap.Error(err))
		h.redirect(w, r, url.Values{"status": {"error"}, "reason": {payment.ReasonServerError}, "orderId": {ref}})
		return
	}

	if res.Success() {
		h.redirect(w, r, url.Values{"status": {"success"}, "orderId": {ref}})
		return
	}
	h.redirect(w, r, url.Values{"status": {"error"}, "reason": {res.Reason}, "orderId": {ref}})
}

// CheckoutCancel handles the provider cancel URL.
func (h *Handler) CheckoutCancel(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, url.Values{"status": {"cancelled"}})
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, q url.Values) {
	http.Redirect(w, r, h.cfg.ConfirmationPath+"?"+q.Encode(), http.StatusSeeOther)
}
