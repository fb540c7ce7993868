// Package eventbus provides the publisher sinks the outbox drainer writes to:
// an AMQP topic exchange in deployment, a log sink when no broker is wired.
package eventbus

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/errs"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/events"
)

// AMQPPublisher publishes envelopes to a durable topic exchange. Routing key
// is the event type, so consumers can bind per lifecycle transition.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher connects to the broker and declares the exchange.
// The exchange is durable and survives broker restarts; messages are
// published persistent so delivery does not depend on broker uptime.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to AMQP broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening AMQP channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish sends one envelope to the exchange. Failures come back as transient
// upstream errors so the outbox drainer schedules a retry.
func (p *AMQPPublisher) Publish(ctx context.Context, envelope events.Envelope) error {
	body, err := envelope.Marshal()
	if err != nil {
		return errs.Wrap(errs.KindInternal, "encode event envelope", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		envelope.Type, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    envelope.TraceID.String(),
			Timestamp:    envelope.Time,
			Type:         envelope.Type,
			Body:         body,
		},
	)
	if err != nil {
		return errs.Wrap(errs.KindUpstreamUnavailable, "publish to event bus", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
