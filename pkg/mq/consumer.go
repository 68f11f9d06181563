package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"subtrack/pkg/metrics"
	"subtrack/pkg/otel"
	"subtrack/pkg/trace"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger
}

// NewConsumer creates a consumer for a specific routing key.
// The matching dead letter queue is declared alongside it.
func NewConsumer(url, queueName, routingKey string, prefetch int, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	cleanup := func() {
		ch.Close()
		conn.Close()
	}

	if err := DeclareTopology(ch); err != nil {
		cleanup()
		return nil, err
	}
	if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
		cleanup()
		return nil, err
	}

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to set qos: %w", err)
		}
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages until ctx is done or the channel closes.
// This method blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"",
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

// handle 保证每条消息都会被 ack 或 nack
func (c *Consumer) handle(parent context.Context, msg amqp091.Delivery) {
	start := time.Now()

	carrier := otel.NewMQHeaderCarrier(msg.Headers)
	ctx := otel.GetTextMapPropagator().Extract(parent, carrier)
	if traceID := carrier.Get(trace.HeaderName); traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx, traceID := trace.Ensure(ctx)
	ctx, span := otel.MQConsumeSpan(ctx, c.routingKey, c.queue.Name)

	logger := c.logger.With(
		zap.String("trace_id", traceID),
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	var handlerErr error
	defer func() {
		// Panic 恢复：确保即使 handler panic 也能正确处理消息
		if r := recover(); r != nil {
			logger.Error("Handler panic recovered", zap.Any("panic", r))
			handlerErr = fmt.Errorf("handler panic: %v", r)
			if err := msg.Nack(false, true); err != nil {
				logger.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
		otel.EndSpan(span, handlerErr)
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, time.Since(start))
	}()

	logger.Debug("Received message", zap.Int("message_size", len(msg.Body)))

	if handlerErr = c.handler(ctx, msg.Body); handlerErr != nil {
		logger.Error("Handler error", zap.Error(handlerErr))
		// 业务失败 → 拒绝消息并重新入队，让 MQ 重试
		if err := msg.Nack(false, true); err != nil {
			logger.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message", zap.Error(err))
		return
	}
	logger.Debug("Message processed successfully")
}
