package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"

	"github.com/GaryWong163/Online-shop/internal/domain/payment"
)

const (
	ipnVerified = "VERIFIED"
	ipnInvalid  = "INVALID"
)

// IPNVerifier confirms instant payment notifications by posting them back to
// the provider.
type IPNVerifier struct {
	endpoint string
	client   *http.Client
}

// NewIPNVerifier creates a verifier posting to endpoint with client.
func NewIPNVerifier(endpoint string, client *http.Client) *IPNVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &IPNVerifier{endpoint: endpoint, client: client}
}

// Verify posts cmd=_notify-validate followed by the untouched body back to
// the provider. Only an exact VERIFIED answer is accepted.
func (v *IPNVerifier) Verify(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return errors.Wrap(ErrMalformed, "empty IPN body")
	}
	payload := make([]byte, 0, len(body)+21)
	payload = append(payload, "cmd=_notify-validate&"...)
	payload = append(payload, body...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "create verify request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "online-shop-ipn")

	resp, err := v.client.Do(req)
	if err != nil {
		return errors.Wrapf(ErrVerifierUnavailable, "post: %s", err)
	}
	defer func() { _ = resp.Body.Close() }()

	answer, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return errors.Wrapf(ErrVerifierUnavailable, "read: %s", err)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrVerifierUnavailable, "status %d", resp.StatusCode)
	}

	switch strings.TrimSpace(string(answer)) {
	case ipnVerified:
		return nil
	case ipnInvalid:
		return errors.Wrap(ErrSignature, "provider answered INVALID")
	default:
		return errors.Wrap(ErrVerifierUnavailable, "unexpected verification answer")
	}
}

// ParseIPN maps IPN form fields onto a Notification. defaultCurrency is used
// when mc_currency is absent.
func ParseIPN(values url.Values, defaultCurrency string) (payment.Notification, error) {
	f := fields{
		OrderRef: firstNonEmpty(values.Get("custom"), values.Get("invoice")),
		TxnID:    values.Get("txn_id"),
		Amount:   values.Get("mc_gross"),
		Currency: values.Get("mc_currency"),
	}
	return f.notification(payment.ChannelIPN, values.Get("txn_type"), values.Get("payment_status"), defaultCurrency)
}
