package mq

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "subtrack.events"

	dialAttempts = 5
	dialTimeout  = 5 * time.Second
	heartbeat    = 10 * time.Second
)

// NewConnection dials RabbitMQ, retrying with a linear delay while the
// broker is still starting.
func NewConnection(url string) (*amqp091.Connection, error) {
	cfg := amqp091.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Dial:       amqp091.DefaultDial(dialTimeout),
		Properties: amqp091.Table{"connection_name": connectionName()},
	}

	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err := amqp091.DialConfig(url, cfg)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt < dialAttempts {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", dialAttempts, lastErr)
}

// DeclareTopology declares the events exchange and the dead letter exchange.
func DeclareTopology(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fmt.Errorf("failed to declare dlq exchange: %w", err)
	}
	return nil
}

// connectionName 显示在 RabbitMQ 管理界面中，便于区分 api / worker
func connectionName() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("subtrack-%s@%s", filepath.Base(os.Args[0]), host)
}
