package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/GaryWong163/Online-shop/internal/domain/discount"
	"github.com/GaryWong163/Online-shop/internal/domain/order"
	"github.com/GaryWong163/Online-shop/internal/domain/pricing"
	"github.com/GaryWong163/Online-shop/internal/identity"
)

// CommitOrder handles POST /api/orders.
func (h *Handler) CommitOrder(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	lines, err := decodeCart(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed cart")
		return
	}

	req := order.CommitRequest{Lines: lines}
	if id := identity.FromContext(r.Context()); id != nil {
		req.UserID = &id.UserID
	}

	res, err := h.Orders.Commit(r.Context(), req)
	if err != nil {
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			writeValidation(w, verr)
			return
		}
		internalError(w, r, "Commit order", err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(res.OrderID) })
		e.Field("digest", func(e *jx.Encoder) { e.Str(res.Digest) })
		e.Field("total", func(e *jx.Encoder) { money(e, res.Total) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(res.Currency) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range res.Lines {
					encodeLine(e, l)
				}
			})
		})
	})
	writeJSON(w, http.StatusOK, &e)
}

func encodeLine(e *jx.Encoder, l pricing.LineQuote) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Int64(l.ProductID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("catalogPrice", func(e *jx.Encoder) { money(e, l.CatalogPrice) })
		e.Field("billedUnitPrice", func(e *jx.Encoder) { money(e, l.BilledUnitPrice) })
		e.Field("lineTotal", func(e *jx.Encoder) { money(e, l.LineTotal) })
		if l.Discount != nil {
			e.Field("discount", func(e *jx.Encoder) { e.Str(string(l.Discount.Type)) })
		}
	})
}

func writeValidation(w http.ResponseWriter, verr *order.ValidationError) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str("invalid cart") })
		e.Field("problems", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, p := range verr.Problems() {
					e.Str(p.Error())
				}
			})
		})
	})
	writeJSON(w, http.StatusBadRequest, &e)
}

// decodeCart reads {"cart":[{"productId":1,"quantity":2}]}. Product ids may
// be numbers or numeric strings.
func decodeCart(body []byte) ([]pricing.Line, error) {
	var lines []pricing.Line
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "cart" && key != "items" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var l pricing.Line
			if err := d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "productId":
					id, err := decodeID(d)
					l.ProductID = id
					return err
				case "quantity":
					n, err := d.Int()
					l.Quantity = n
					return err
				default:
					return d.Skip()
				}
			}); err != nil {
				return err
			}
			lines = append(lines, l)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func decodeID(d *jx.Decoder) (int64, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		return strconv.ParseInt(s, 10, 64)
	}
	return d.Int64()
}

// ListDiscounts handles GET /api/discounts.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Discounts.List(r.Context())
	if err != nil {
		internalError(w, r, "List discounts", err)
		return
	}

	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, rule := range rules {
			encodeRule(e, rule)
		}
	})
	writeJSON(w, http.StatusOK, &e)
}

func encodeRule(e *jx.Encoder, rule discount.Rule) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(rule.ID) })
		e.Field("productId", func(e *jx.Encoder) { e.Int64(rule.ProductID) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(rule.Type)) })
		e.Field("description", func(e *jx.Encoder) { e.Str(rule.Description) })
		if b := rule.BuyXGetYFree; b != nil {
			e.Field("buy", func(e *jx.Encoder) { e.Int(b.Buy) })
			e.Field("free", func(e *jx.Encoder) { e.Int(b.Free) })
		}
		if tiers := rule.SortedTiers(); len(tiers) > 0 {
			e.Field("tiers", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, t := range tiers {
						e.Obj(func(e *jx.Encoder) {
							e.Field("quantity", func(e *jx.Encoder) { e.Int(t.Quantity) })
							e.Field("totalPrice", func(e *jx.Encoder) { money(e, t.TotalPrice) })
						})
					}
				})
			})
		}
	})
}

// MyOrders handles GET /api/orders/mine.
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	sums, err := h.Orders.History(r.Context(), id.UserID, h.cfg.HistoryLimit)
	if err != nil {
		internalError(w, r, "List user orders", err)
		return
	}
	writeSummaries(w, sums)
}

// AllOrders handles GET /api/admin/orders.
func (h *Handler) AllOrders(w http.ResponseWriter, r *http.Request) {
	sums, err := h.Orders.All(r.Context(), h.cfg.AdminLimit)
	if err != nil {
		internalError(w, r, "List orders", err)
		return
	}
	writeSummaries(w, sums)
}

func writeSummaries(w http.ResponseWriter, sums []order.Summary) {
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, s := range sums {
			e.Obj(func(e *jx.Encoder) {
				e.Field("orderId", func(e *jx.Encoder) { e.Int64(s.Order.ID) })
				if s.Order.UserID != nil {
					e.Field("userId", func(e *jx.Encoder) { e.Str(*s.Order.UserID) })
				}
				e.Field("total", func(e *jx.Encoder) { money(e, s.Order.Total) })
				e.Field("createdAt", func(e *jx.Encoder) { e.Str(s.Order.CreatedAt.UTC().Format(time.RFC3339)) })
				e.Field("paymentStatus", func(e *jx.Encoder) {
					if s.PaymentStatus == "" {
						e.Null()
						return
					}
					e.Str(s.PaymentStatus)
				})
				e.Field("items", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, it := range s.Order.Items {
							e.Obj(func(e *jx.Encoder) {
								e.Field("productId", func(e *jx.Encoder) { e.Int64(it.ProductID) })
								e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
								e.Field("price", func(e *jx.Encoder) { money(e, it.Price) })
							})
						}
					})
				})
			})
		}
	})
	writeJSON(w, http.StatusOK, &e)
}
