package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// StatusConfig bounds the status query retries.
type StatusConfig struct {
	Attempts int
	Interval time.Duration
}

// StatusService answers "has this order been paid" with a short bounded
// retry, for callers that cannot wait as long as the Reconciler.
type StatusService struct {
	store Store
	cfg   StatusConfig
}

// NewStatusService creates a StatusService. Zero config values fall back to
// three attempts two seconds apart.
func NewStatusService(store Store, cfg StatusConfig) *StatusService {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &StatusService{store: store, cfg: cfg}
}

// Status returns the most recent transaction of the order. It returns
// ErrTransactionNotFound when nothing was recorded within the bound. Errors
// on earlier attempts are logged and retried; an error on the final attempt
// is returned.
func (s *StatusService) Status(ctx context.Context, orderID int64) (*Transaction, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		t, err := s.store.Latest(ctx, orderID)
		switch {
		case err == nil:
			return t, nil
		case errors.Is(err, ErrTransactionNotFound):
			lastErr = nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			zctx.From(ctx).Warn("Query transaction status",
				zap.Int64("order_id", orderID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			lastErr = err
		}
		if attempt < s.cfg.Attempts {
			if err := sleep(ctx, s.cfg.Interval); err != nil {
				return nil, err
			}
		}
	}
	if lastErr != nil {
		return nil, errors.Wrap(lastErr, "query transaction")
	}
	return nil, ErrTransactionNotFound
}
