package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultExchange is the topic exchange used when none is configured.
const DefaultExchange = "planengine.events"

// AMQPSink publishes events to a RabbitMQ topic exchange, routed by type.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

// DialAMQP connects to url with a bounded retry and declares the exchange.
func DialAMQP(url, exchange string, maxRetries int, log *zap.Logger) (*AMQPSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if log == nil {
		log = zap.NewNop()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for i := 1; i <= maxRetries; i++ {
		sink, err := dialAMQPOnce(url, exchange, log)
		if err == nil {
			return sink, nil
		}
		lastErr = err

		log.Warn("Failed to connect to RabbitMQ, retrying...",
			zap.Int("attempt", i),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)
		if i < maxRetries {
			time.Sleep(time.Duration(i) * time.Second)
		}
	}
	return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", maxRetries, lastErr)
}

func dialAMQPOnce(url, exchange string, log *zap.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

// Publish implements Publisher.
func (s *AMQPSink) Publish(ctx context.Context, evts ...Event) error {
	for _, evt := range evts {
		body, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", evt.ID, err)
		}
		err = s.ch.PublishWithContext(ctx,
			s.exchange,
			string(evt.Type),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    evt.ID,
				Timestamp:    evt.OccurredAt,
				Body:         body,
			})
		if err != nil {
			s.log.Error("Failed to publish event to RabbitMQ", zap.String("type", string(evt.Type)), zap.Error(err))
			return fmt.Errorf("publish %s: %w", evt.Type, err)
		}
	}
	return nil
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	if err := s.ch.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}
