package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/GaryWong163/Online-shop/internal/domain/order"
	"github.com/GaryWong163/Online-shop/pkg/retry"
)

// Channel names the delivery path of a notification.
type Channel string

// Notification channels.
const (
	ChannelWebhook Channel = "webhook"
	ChannelIPN     Channel = "ipn"
)

// Notification is an authenticated provider message about one payment.
type Notification struct {
	Channel       Channel
	EventType     string
	OrderID       int64
	ProviderTxnID string
	// Status is the provider's raw status string.
	Status   string
	Amount   decimal.Decimal
	Currency string
}

// Outcome is the result of ingesting a notification.
type Outcome string

// Ingestion outcomes. All of them are acknowledged to the provider.
const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type options struct {
	telemetry
	locker    Locker
	publisher Publisher
	retry     retry.Policy
}

// Option configures an Ingestor, Reconciler or StatusService.
type Option func(*options)

// WithMeterProvider sets the meter provider for payment counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for payment spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithLocker guards concurrent deliveries of one provider transaction.
func WithLocker(l Locker) Option {
	return func(o *options) { o.locker = l }
}

// WithPublisher announces every recorded payment.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRetry sets the retry policy for transient storage failures.
func WithRetry(p retry.Policy) Option {
	return func(o *options) { o.retry = p }
}

func buildOptions(opts []Option) options {
	o := options{telemetry: defaultTelemetry(), retry: retry.DefaultPolicy}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Ingestor records authenticated notifications after checking them against
// the committed order.
type Ingestor struct {
	store     Store
	digester  order.Digester
	locker    Locker
	publisher Publisher
	retry     retry.Policy
	metrics   *metrics
	tracer    trace.Tracer
}

// NewIngestor creates an Ingestor. digester must be bound to the same
// merchant identity that committed the orders.
func NewIngestor(store Store, digester order.Digester, opts ...Option) *Ingestor {
	o := buildOptions(opts)
	return &Ingestor{
		store:     store,
		digester:  digester,
		locker:    o.locker,
		publisher: o.publisher,
		retry:     o.retry,
		metrics:   newMetrics(o.meterProvider),
		tracer:    o.tracerProvider.Tracer(instrumentationName),
	}
}

// Ingest applies one notification. Redeliveries of an already recorded
// provider transaction return OutcomeDuplicate. Non-completed statuses are
// verified and logged but not persisted.
func (i *Ingestor) Ingest(ctx context.Context, n Notification) (outcome Outcome, rerr error) {
	ctx, span := i.tracer.Start(ctx, "payment.Ingest", trace.WithAttributes(
		attribute.String("payment.channel", string(n.Channel)),
		attribute.String("payment.event_type", n.EventType),
		attribute.Int64("order.id", n.OrderID),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		} else {
			span.SetAttributes(attribute.String("payment.outcome", string(outcome)))
		}
		span.End()
		i.metrics.notification(ctx, n.Channel, outcome, rerr)
	}()

	lg := zctx.From(ctx).With(
		zap.String("channel", string(n.Channel)),
		zap.Int64("order_id", n.OrderID),
		zap.String("provider_txn_id", n.ProviderTxnID),
	)

	if i.locker != nil {
		acquired, err := i.locker.Acquire(ctx, n.ProviderTxnID)
		switch {
		case err != nil:
			// The unique index still guards against double recording.
			lg.Warn("In-flight lock unavailable", zap.Error(err))
		case !acquired:
			return "", ErrInFlight
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				if err := i.locker.Release(releaseCtx, n.ProviderTxnID); err != nil {
					lg.Warn("Release in-flight lock", zap.Error(err))
				}
			}()
		}
	}

	_, err := i.store.FindByProviderID(ctx, n.ProviderTxnID)
	switch {
	case err == nil:
		lg.Info("Duplicate notification acknowledged")
		return OutcomeDuplicate, nil
	case !errors.Is(err, ErrTransactionNotFound):
		return "", errors.Wrap(err, "find transaction")
	}

	status := NormalizeStatus(n.Status)
	var recorded *Transaction
	err = retry.Do(ctx, i.retry, func(ctx context.Context) error {
		recorded = nil
		return i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := tx.LockOrder(ctx, n.OrderID)
			if err != nil {
				return err
			}
			if !i.digester.Verify(o, n.Currency) {
				return &IntegrityError{OrderID: n.OrderID, Reason: ReasonDigestMismatch}
			}
			if status != StatusCompleted {
				return nil
			}
			if !n.Amount.Round(2).Equal(o.Total.Round(2)) {
				return &IntegrityError{OrderID: n.OrderID, Reason: ReasonAmountMismatch}
			}

			t := &Transaction{
				OrderID:       n.OrderID,
				ProviderTxnID: n.ProviderTxnID,
				Status:        StatusCompleted,
				Amount:        n.Amount.Round(2),
			}
			if err := tx.Insert(ctx, t); err != nil {
				return err
			}
			recorded = t
			return nil
		})
	})

	var integrityErr *IntegrityError
	switch {
	case errors.Is(err, ErrDuplicateTransaction):
		lg.Info("Concurrent duplicate notification acknowledged")
		return OutcomeDuplicate, nil
	case errors.Is(err, ErrOrderNotFound):
		lg.Warn("Notification for unknown order")
		return "", err
	case errors.As(err, &integrityErr):
		lg.Error("Integrity failure",
			zap.String("reason", integrityErr.Reason),
			zap.String("currency", n.Currency),
			zap.String("amount", n.Amount.String()),
		)
		return "", err
	case err != nil:
		return "", errors.Wrap(err, "record transaction")
	}

	if recorded == nil {
		lg.Info("Non-completed payment status ignored",
			zap.String("status", n.Status),
			zap.String("normalized", string(status)),
		)
		return OutcomeIgnored, nil
	}

	lg.Info("Payment recorded",
		zap.Int64("transaction_id", recorded.ID),
		zap.String("amount", recorded.Amount.StringFixed(2)),
	)
	if i.publisher != nil {
		if err := i.publisher.PaymentRecorded(ctx, *recorded); err != nil {
			lg.Warn("Publish payment recorded event", zap.Error(err))
		}
	}
	return OutcomeRecorded, nil
}
