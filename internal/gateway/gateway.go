// Package gateway authenticates and decodes payment provider notifications.
package gateway

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/GaryWong163/Online-shop/internal/domain/payment"
)

var (
	// ErrSignature is returned when a notification fails authentication.
	ErrSignature = errors.New("notification authenticity check failed")
	// ErrVerifierUnavailable is returned when the provider could not be
	// asked to confirm a notification. The provider should redeliver.
	ErrVerifierUnavailable = errors.New("notification verifier unavailable")
	// ErrMalformed is returned for payloads missing required fields.
	ErrMalformed = errors.New("malformed notification")
)

// DefaultCurrency applies when a notification does not name a currency and
// the caller passes no merchant currency.
const DefaultCurrency = "USD"

var validate = validator.New(validator.WithRequiredStructEnabled())

// fields are the raw values every notification must carry.
type fields struct {
	OrderRef string `validate:"required,number,max=19"`
	TxnID    string `validate:"required,max=255"`
	Amount   string `validate:"required"`
	Currency string `validate:"required,len=3,alpha"`
}

func (f fields) notification(ch payment.Channel, eventType, status, defaultCurrency string) (payment.Notification, error) {
	if f.Currency == "" {
		f.Currency = firstNonEmpty(defaultCurrency, DefaultCurrency)
	}
	f.Currency = strings.ToUpper(f.Currency)

	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			names := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				names = append(names, fe.Field())
			}
			return payment.Notification{}, errors.Wrapf(ErrMalformed, "invalid fields: %s", strings.Join(names, ", "))
		}
		return payment.Notification{}, errors.Wrap(err, "validate notification")
	}

	orderID, err := strconv.ParseInt(f.OrderRef, 10, 64)
	if err != nil {
		return payment.Notification{}, errors.Wrapf(ErrMalformed, "order reference %q", f.OrderRef)
	}
	amount, err := decimal.NewFromString(f.Amount)
	if err != nil {
		return payment.Notification{}, errors.Wrapf(ErrMalformed, "amount %q", f.Amount)
	}

	return payment.Notification{
		Channel:       ch,
		EventType:     eventType,
		OrderID:       orderID,
		ProviderTxnID: f.TxnID,
		Status:        status,
		Amount:        amount,
		Currency:      f.Currency,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
