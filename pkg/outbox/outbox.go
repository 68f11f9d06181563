package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"subtrack/pkg/otel"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Event 表示一个待发布的事件
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   *int64
	RoutingKey    string
	Payload       json.RawMessage
	Status        string
	RetryCount    int
	NextRetryAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository stores events in outbox_events. Enqueue runs inside the
// caller's transaction; everything else uses the pool.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue marshals payload and inserts it as a pending event in tx, so the
// event commits or rolls back together with the business row.
func (r *Repository) Enqueue(ctx context.Context, tx pgx.Tx, aggregateType string, aggregateID *int64, routingKey string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO outbox_events (aggregate_type, aggregate_id, routing_key, payload, status)
        VALUES ($1, $2, $3, $4, $5)
    `, aggregateType, aggregateID, routingKey, data, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// Pending returns due pending events, oldest first.
func (r *Repository) Pending(ctx context.Context, limit int) ([]*Event, error) {
	query := `
        SELECT id, aggregate_type, aggregate_id, routing_key, payload, status,
               retry_count, next_retry_at, created_at, updated_at
        FROM outbox_events
        WHERE status = 'pending'
          AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at ASC
        LIMIT $1
    `
	var events []*Event
	err := otel.WithDBSpan(ctx, "select", "outbox_events", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, limit)
		if err != nil {
			return err
		}
		events, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[Event])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	return events, nil
}

// MarkSent 标记事件为已发送
func (r *Repository) MarkSent(ctx context.Context, eventID int64) error {
	_, err := r.db.Exec(ctx, `
        UPDATE outbox_events SET status = 'sent', updated_at = NOW() WHERE id = $1
    `, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkFailed bumps the retry count. Below maxRetries the event stays pending
// with a linear backoff of 5s per attempt; at maxRetries it becomes failed.
func (r *Repository) MarkFailed(ctx context.Context, eventID int64, maxRetries int) error {
	_, err := r.db.Exec(ctx, `
        UPDATE outbox_events
        SET retry_count   = retry_count + 1,
            status        = CASE WHEN retry_count + 1 >= $2 THEN 'failed' ELSE 'pending' END,
            next_retry_at = CASE WHEN retry_count + 1 >= $2 THEN NULL
                                 ELSE NOW() + (retry_count + 1) * INTERVAL '5 seconds' END,
            updated_at    = NOW()
        WHERE id = $1
    `, eventID, maxRetries)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// Requeue 将 failed 事件重置为 pending，返回重置的数量
func (r *Repository) Requeue(ctx context.Context, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE outbox_events
        SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = NOW()
        WHERE id IN (
            SELECT id FROM outbox_events WHERE status = 'failed' ORDER BY created_at ASC LIMIT $1
        )
    `, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue events: %w", err)
	}
	return tag.RowsAffected(), nil
}
