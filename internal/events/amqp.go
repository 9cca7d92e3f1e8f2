package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// AMQPPublisher sends events as persistent JSON messages to a direct
// exchange. The queue is bound with its own name as routing key.
type AMQPPublisher struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

// NewAMQPPublisher dials url and declares the exchange and queue.
func NewAMQPPublisher(url, exchangeName, queueName string) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p := &AMQPPublisher{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}
	if err := p.setup(); err != nil {
		p.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return p, nil
}

func (p *AMQPPublisher) setup() error {
	if err := p.channel.ExchangeDeclare(p.exchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := p.channel.QueueDeclare(p.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := p.channel.QueueBind(p.queueName, p.queueName, p.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Publish sends event as a persistent message.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx, p.exchangeName, p.queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		MessageId:    event.Transaction.ID,
		Type:         event.Kind,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Consume delivers queued events to handler until ctx is done. Malformed
// messages are dropped; handler failures are requeued.
func (p *AMQPPublisher) Consume(ctx context.Context, handler func(context.Context, Event) error) error {
	msgs, err := p.channel.Consume(p.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	slog.InfoContext(ctx, "consuming ledger events", "queue", p.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			if err := HandleDelivery(ctx, delivery.Body, handler); err != nil {
				var decodeErr *DecodeError
				if errors.As(err, &decodeErr) {
					slog.ErrorContext(ctx, "dropping malformed event", "error", err)
					_ = delivery.Nack(false, false)
					continue
				}
				slog.ErrorContext(ctx, "event handler failed", "error", err, "message_id", delivery.MessageId)
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// DecodeError marks a message body that is not a valid event.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode event: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// HandleDelivery decodes body and passes the event to handler.
func HandleDelivery(ctx context.Context, body []byte, handler func(context.Context, Event) error) error {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return &DecodeError{Err: err}
	}
	if event.Kind == "" || event.UserID == "" {
		return &DecodeError{Err: errors.New("missing kind or user id")}
	}
	return handler(ctx, event)
}
