package outbox

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"subtrack/pkg/trace"
)

// Store is the part of Repository the dispatcher needs.
type Store interface {
	Pending(ctx context.Context, limit int) ([]*Event, error)
	MarkSent(ctx context.Context, eventID int64) error
	MarkFailed(ctx context.Context, eventID int64, maxRetries int) error
}

// Publisher sends one payload to the events exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	store      Store
	publisher  Publisher
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	if maxRetries > 0 {
		d.maxRetries = maxRetries
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	return d
}

// Start polls until ctx is cancelled. Run it in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce publishes one batch and returns how many events were sent.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	events, err := d.store.Pending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return sent
		}
		log := d.logger.With(
			zap.Int64("event_id", event.ID),
			zap.String("routing_key", event.RoutingKey),
		)

		if err := d.publish(ctx, event); err != nil {
			log.Error("Failed to publish event", zap.Int("retry_count", event.RetryCount), zap.Error(err))
			if err := d.store.MarkFailed(ctx, event.ID, d.maxRetries); err != nil {
				log.Error("Failed to mark event as failed", zap.Error(err))
			}
			continue
		}

		if err := d.store.MarkSent(ctx, event.ID); err != nil {
			// 已经发出，下一轮会重复投递；消费方按 subscription_id 幂等
			log.Error("Failed to mark event as sent", zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		d.logger.Debug("Outbox batch dispatched", zap.Int("sent", sent), zap.Int("batch", len(events)))
	}
	return sent
}

// publish 原样转发 payload，payload 中的 trace_id 继续沿用
func (d *Dispatcher) publish(ctx context.Context, event *Event) error {
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(event.Payload, &envelope); err == nil && envelope.TraceID != "" {
		ctx = trace.WithContext(ctx, envelope.TraceID)
	}
	return d.publisher.Publish(ctx, event.RoutingKey, event.Payload)
}
