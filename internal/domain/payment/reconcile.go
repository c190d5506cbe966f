package payment

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/GaryWong163/Online-shop/pkg/retry"
)

// Reason codes carried by error redirects.
const (
	ReasonMissingReference = "missing_reference"
	ReasonNoTransaction    = "no_transaction"
	ReasonNoOrder          = "no_order"
	ReasonServerError      = "server_error"
)

// StatusReason returns the redirect reason for a non-completed status.
func StatusReason(s Status) string {
	return "payment_status_" + strings.ToLower(string(s))
}

// DefaultPlaceholderPrefix prefixes the provider id of placeholder rows.
const DefaultPlaceholderPrefix = "WEBHOOK-PENDING-"

// ReconcilerConfig bounds the return-redirect polling.
type ReconcilerConfig struct {
	Attempts           int
	Interval           time.Duration
	PlaceholderPrefix  string
	PlaceholderTimeout time.Duration
}

// Resolution is the outcome of reconciling one return redirect.
type Resolution struct {
	OrderID     int64
	Status      Status
	Transaction *Transaction
	// Reason is empty on success.
	Reason string
}

// Success reports whether a completed payment was found.
func (r *Resolution) Success() bool { return r.Reason == "" }

// Reconciler waits for the asynchronous notification that should accompany
// a customer's return from the hosted payment page.
type Reconciler struct {
	store   Store
	cfg     ReconcilerConfig
	retry   retry.Policy
	metrics *metrics
	tracer  trace.Tracer
}

// NewReconciler creates a Reconciler. Zero config values fall back to six
// attempts five seconds apart.
func NewReconciler(store Store, cfg ReconcilerConfig, opts ...Option) *Reconciler {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 6
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.PlaceholderPrefix == "" {
		cfg.PlaceholderPrefix = DefaultPlaceholderPrefix
	}
	if cfg.PlaceholderTimeout <= 0 {
		cfg.PlaceholderTimeout = 10 * time.Second
	}
	o := buildOptions(opts)
	return &Reconciler{
		store:   store,
		cfg:     cfg,
		retry:   o.retry,
		metrics: newMetrics(o.meterProvider),
		tracer:  o.tracerProvider.Tracer(instrumentationName),
	}
}

// Reconcile polls for a completed transaction of the order. When none shows
// up within the bound it records a Pending placeholder, unless any
// transaction already exists, and resolves to that row's status. It never
// records a completed payment itself. A done ctx stops polling and returns
// ctx.Err().
func (r *Reconciler) Reconcile(ctx context.Context, orderID int64) (res *Resolution, rerr error) {
	ctx, span := r.tracer.Start(ctx, "payment.Reconcile", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
	))
	defer func() {
		switch {
		case rerr != nil:
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			r.metrics.reconciliation(ctx, ReasonServerError)
		case res.Success():
			r.metrics.reconciliation(ctx, "success")
		default:
			r.metrics.reconciliation(ctx, res.Reason)
		}
		span.End()
	}()

	lg := zctx.From(ctx).With(zap.Int64("order_id", orderID))

	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		t, err := r.store.FindCompleted(ctx, orderID)
		switch {
		case err == nil:
			span.SetAttributes(attribute.Int("reconcile.attempts", attempt))
			return &Resolution{OrderID: orderID, Status: t.Status, Transaction: t}, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case !errors.Is(err, ErrTransactionNotFound):
			lg.Warn("Poll transaction", zap.Int("attempt", attempt), zap.Error(err))
		}
		if attempt < r.cfg.Attempts {
			if err := sleep(ctx, r.cfg.Interval); err != nil {
				return nil, err
			}
		}
	}

	// The placeholder unit must finish or roll back even if the client
	// goes away now.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PlaceholderTimeout)
	defer cancel()

	t, err := r.latestOrPlaceholder(pctx, orderID)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return &Resolution{OrderID: orderID, Reason: ReasonNoOrder}, nil
	case err != nil:
		return nil, errors.Wrap(err, "record placeholder")
	}

	res = &Resolution{OrderID: orderID, Status: t.Status, Transaction: t}
	if t.Status != StatusCompleted {
		res.Reason = StatusReason(t.Status)
	}
	return res, nil
}

func (r *Reconciler) latestOrPlaceholder(ctx context.Context, orderID int64) (*Transaction, error) {
	var out *Transaction
	err := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		out = nil
		return r.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}

			latest, err := tx.Latest(ctx, orderID)
			switch {
			case err == nil:
				out = latest
				return nil
			case !errors.Is(err, ErrTransactionNotFound):
				return err
			}

			t := &Transaction{
				OrderID:       orderID,
				ProviderTxnID: r.cfg.PlaceholderPrefix + strconv.FormatInt(orderID, 10),
				Status:        StatusPending,
				Amount:        o.Total,
			}
			if err := tx.Insert(ctx, t); err != nil {
				return err
			}
			zctx.From(ctx).Info("Recorded pending placeholder",
				zap.Int64("order_id", orderID),
				zap.String("provider_txn_id", t.ProviderTxnID),
			)
			out = t
			return nil
		})
	})
	if errors.Is(err, ErrDuplicateTransaction) {
		// Only reachable when the placeholder was written outside the
		// order lock; the existing row is the answer.
		return r.store.Latest(ctx, orderID)
	}
	return out, err
}
