package amqp

import (
	"fmt"
	"time"

	"github.com/Zhima-Mochi/diner/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "kitchen"
	ExchangeType    = "topic"
	retryDelay      = 2 * time.Second
)

// SetupConn dials the broker, retrying up to attempts times, and declares the durable topic exchange.
func SetupConn(url, exchange string, attempts int, log observability.Logger) (*amqp.Connection, *amqp.Channel, error) {
	if log == nil {
		log = observability.NopLogger()
	}
	if attempts < 1 {
		attempts = 1
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("amqp_dial_failed",
			observability.F("attempt", i+1),
			observability.F("error", err),
		)
		if i < attempts-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}
