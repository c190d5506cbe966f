// Package rabbitmq announces recorded payments on a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/GaryWong163/Online-shop/internal/domain/payment"
)

var _ payment.Publisher = (*Publisher)(nil)

// RoutingKeyPaymentRecorded is the routing key of payment events.
const RoutingKeyPaymentRecorded = "payment.recorded"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements payment.Publisher.
type Publisher struct {
	exchange string
	conn     *amqp.Connection

	mu sync.Mutex
	ch channel
}

// Dial connects to url and declares a durable topic exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}
	return &Publisher{exchange: exchange, conn: conn, ch: ch}, nil
}

// PaymentRecorded publishes t as a persistent JSON message.
func (p *Publisher) PaymentRecorded(ctx context.Context, t payment.Transaction) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    t.ProviderTxnID,
		Timestamp:    t.CreatedAt,
		Type:         RoutingKeyPaymentRecorded,
		Body:         EncodeEvent(t),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyPaymentRecorded, false, false, msg); err != nil {
		return errors.Wrap(err, "publish payment.recorded")
	}
	return nil
}

// Ping reports whether the broker connection is still open.
func (p *Publisher) Ping(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// EncodeEvent renders the payment.recorded message body.
func EncodeEvent(t payment.Transaction) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("transactionId", func(e *jx.Encoder) { e.Int64(t.ID) })
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(t.OrderID) })
		e.Field("providerTxnId", func(e *jx.Encoder) { e.Str(t.ProviderTxnID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(t.Status)) })
		e.Field("amount", func(e *jx.Encoder) { e.Str(t.Amount.StringFixed(2)) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(t.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return e.Bytes()
}
