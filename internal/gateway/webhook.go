package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/GaryWong163/Online-shop/internal/domain/payment"
)

// SignatureHeader carries the webhook signature as "t=<unix>,v1=<hex>".
// Several v1 entries may be present while secrets are rotated.
const SignatureHeader = "X-Webhook-Signature"

// WebhookVerifier checks HMAC-SHA256 webhook signatures.
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier creates a verifier for the shared signing secret. A
// zero tolerance disables the timestamp check.
func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Sign returns a SignatureHeader value for body at ts.
func (v *WebhookVerifier) Sign(body []byte, ts time.Time) string {
	unix := ts.Unix()
	return "t=" + strconv.FormatInt(unix, 10) + ",v1=" + hex.EncodeToString(v.mac(unix, body))
}

// Verify authenticates body against the signature header value.
func (v *WebhookVerifier) Verify(header string, body []byte) error {
	if len(v.secret) == 0 {
		return errors.Wrap(ErrSignature, "signing secret not configured")
	}
	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return errors.Wrap(ErrSignature, "timestamp outside tolerance")
		}
	}

	expected := v.mac(ts, body)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return nil
		}
	}
	return errors.Wrap(ErrSignature, "signature mismatch")
}

func (v *WebhookVerifier) mac(ts int64, body []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(strconv.FormatInt(ts, 10)))
	m.Write([]byte("."))
	m.Write(body)
	return m.Sum(nil)
}

func parseSignatureHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, errors.Wrap(ErrSignature, "missing signature header")
	}
	var (
		ts    int64
		hasTS bool
		sigs  []string
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, errors.Wrap(ErrSignature, "invalid signature timestamp")
			}
			ts, hasTS = n, true
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if !hasTS || len(sigs) == 0 {
		return 0, nil, errors.Wrap(ErrSignature, "incomplete signature header")
	}
	return ts, sigs, nil
}

// Event types that carry a payment outcome, mapped to the status implied by
// the event when the resource does not state one.
var webhookEvents = map[string]string{
	"CHECKOUT.ORDER.COMPLETED":  "COMPLETED",
	"PAYMENT.SALE.COMPLETED":    "COMPLETED",
	"PAYMENT.CAPTURE.COMPLETED": "COMPLETED",
	"PAYMENT.CAPTURE.PENDING":   "PENDING",
	"PAYMENT.CAPTURE.DENIED":    "DENIED",
	"PAYMENT.CAPTURE.REFUNDED":  "REFUNDED",
	"PAYMENT.CAPTURE.REVERSED":  "REVERSED",
}

// WebhookEvent is a decoded webhook envelope.
type WebhookEvent struct {
	ID        string
	EventType string
	// Supported is false for event types that carry no payment outcome.
	Supported    bool
	Notification payment.Notification
}

type webhookResource struct {
	id, saleID, customID, invoiceID, status string
	amount, grossAmount                     money
	purchaseUnit                            purchaseUnit
}

type purchaseUnit struct {
	customID, invoiceID string
	amount              money
}

type money struct {
	value, currency string
}

// ParseWebhook decodes a webhook body. Unsupported event types decode
// successfully with Supported set to false. defaultCurrency is used when the
// resource amount names no currency.
func ParseWebhook(body []byte, defaultCurrency string) (*WebhookEvent, error) {
	var (
		ev  WebhookEvent
		res webhookResource
	)
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			ev.ID, err = decodeString(d)
		case "event_type":
			ev.EventType, err = decodeString(d)
		case "resource":
			err = decodeResource(d, &res)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "decode webhook: %s", err)
	}

	implied, ok := webhookEvents[ev.EventType]
	if !ok {
		return &ev, nil
	}
	ev.Supported = true

	status := implied
	if implied == "COMPLETED" && res.status != "" {
		status = res.status
	}

	amount := firstMoney(res.amount, res.grossAmount, res.purchaseUnit.amount)
	f := fields{
		OrderRef: firstNonEmpty(res.customID, res.invoiceID, res.purchaseUnit.customID, res.purchaseUnit.invoiceID),
		TxnID:    firstNonEmpty(res.id, res.saleID),
		Amount:   amount.value,
		Currency: amount.currency,
	}
	n, err := f.notification(payment.ChannelWebhook, ev.EventType, status, defaultCurrency)
	if err != nil {
		return nil, err
	}
	ev.Notification = n
	return &ev, nil
}

func firstMoney(ms ...money) money {
	for _, m := range ms {
		if m.value != "" {
			return m
		}
	}
	return money{}
}

func decodeResource(d *jx.Decoder, r *webhookResource) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			r.id, err = decodeString(d)
		case "sale_id":
			r.saleID, err = decodeString(d)
		case "custom_id", "custom":
			r.customID, err = decodeString(d)
		case "invoice_id", "invoice_number":
			r.invoiceID, err = decodeString(d)
		case "status", "state":
			r.status, err = decodeString(d)
		case "amount":
			err = decodeMoney(d, &r.amount)
		case "gross_amount":
			err = decodeMoney(d, &r.grossAmount)
		case "purchase_units":
			first := true
			err = d.Arr(func(d *jx.Decoder) error {
				if !first {
					return d.Skip()
				}
				first = false
				return decodePurchaseUnit(d, &r.purchaseUnit)
			})
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodePurchaseUnit(d *jx.Decoder, u *purchaseUnit) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "custom_id":
			u.customID, err = decodeString(d)
		case "invoice_id":
			u.invoiceID, err = decodeString(d)
		case "amount":
			err = decodeMoney(d, &u.amount)
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodeMoney(d *jx.Decoder, m *money) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "value", "total":
			var v string
			if v, err = decodeString(d); err == nil && m.value == "" {
				m.value = v
			}
		case "currency_code", "currency":
			var v string
			if v, err = decodeString(d); err == nil && m.currency == "" {
				m.currency = v
			}
		default:
			err = d.Skip()
		}
		return err
	})
}

// decodeString reads a string, number or null as its textual form.
func decodeString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}
