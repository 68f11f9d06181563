package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	contractmq "subtrack/contracts/mq"
	"subtrack/internal/model"
	"subtrack/pkg/otel"
	"subtrack/pkg/outbox"
	"subtrack/pkg/trace"
)

// SubscriptionRepository stores both outcome tables. A (user_id, email_id)
// key lives in at most one of them.
type SubscriptionRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

type SubscriptionOption func(*SubscriptionRepository)

// WithOutbox makes SaveSubscription enqueue subscription.tracked in the
// same transaction as the insert.
func WithOutbox(o *outbox.Repository) SubscriptionOption {
	return func(r *SubscriptionRepository) { r.outbox = o }
}

func NewSubscriptionRepository(db *pgxpool.Pool, opts ...SubscriptionOption) *SubscriptionRepository {
	r := &SubscriptionRepository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const processedQuery = `
    SELECT EXISTS (SELECT 1 FROM subscriptions WHERE user_id = $1 AND email_id = $2)
        OR EXISTS (SELECT 1 FROM untracked_emails WHERE user_id = $1 AND email_id = $2)
`

// HasProcessed reports whether the message already produced a row.
func (r *SubscriptionRepository) HasProcessed(ctx context.Context, userID int64, emailID string) (bool, error) {
	var exists bool
	err := otel.WithDBSpan(ctx, "select", "subscriptions", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, processedQuery, userID, emailID).Scan(&exists)
	})
	return exists, err
}

// SaveSubscription inserts s unless the message was already stored in
// either table. It returns false when nothing was inserted.
func (r *SubscriptionRepository) SaveSubscription(ctx context.Context, s *model.Subscription) (bool, error) {
	query := `
        INSERT INTO subscriptions (
            user_id, email_id, email_account_tracked_from, subscription_name, category,
            amount, currency_code, currency_symbol, billing_frequency, renewal_date,
            date, statement, confidence, status
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT (user_id, email_id) DO NOTHING
        RETURNING id, created_at, last_updated
    `
	var code, symbol *string
	if s.Currency != nil {
		code, symbol = &s.Currency.Code, &s.Currency.Symbol
	}

	return r.insertOnce(ctx, "subscriptions", s.UserID, s.EmailID, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, query,
			s.UserID, s.EmailID, s.EmailAccountTrackedFrom, s.SubscriptionName, s.Category,
			s.Amount, code, symbol, string(s.BillingFrequency), s.RenewalDate,
			s.Date, s.Statement, s.Confidence, s.Status,
		).Scan(&s.ID, &s.CreatedAt, &s.LastUpdated)
		if err != nil || r.outbox == nil {
			return err
		}
		return r.outbox.Enqueue(ctx, tx, "subscription", &s.ID,
			contractmq.RoutingKeySubscriptionTracked, s.TrackedEvent(trace.FromContext(ctx)))
	})
}

// SaveUntracked inserts u unless the message was already stored in either
// table. It returns false when nothing was inserted.
func (r *SubscriptionRepository) SaveUntracked(ctx context.Context, u *model.UntrackedEmail) (bool, error) {
	content, err := json.Marshal(u.Content)
	if err != nil {
		return false, fmt.Errorf("marshal content: %w", err)
	}
	analysis, err := json.Marshal(u.Analysis)
	if err != nil {
		return false, fmt.Errorf("marshal analysis: %w", err)
	}

	query := `
        INSERT INTO untracked_emails (user_id, email_id, email_account_tracked_from, content, analysis, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (user_id, email_id) DO NOTHING
        RETURNING id, created_at
    `
	return r.insertOnce(ctx, "untracked_emails", u.UserID, u.EmailID, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, u.UserID, u.EmailID, u.EmailAccountTrackedFrom, content, analysis, u.Status).
			Scan(&u.ID, &u.CreatedAt)
	})
}

// insertOnce serializes writers of one (user, email) key with a transaction
// scoped advisory lock, re-checks both tables, then runs insert.
func (r *SubscriptionRepository) insertOnce(ctx context.Context, table string, userID int64, emailID string, insert func(context.Context, pgx.Tx) error) (bool, error) {
	inserted := false
	err := otel.WithDBSpan(ctx, "insert", table, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			key := fmt.Sprintf("%d:%s", userID, emailID)
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
				return err
			}

			var exists bool
			if err := tx.QueryRow(ctx, processedQuery, userID, emailID).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}

			err := insert(ctx, tx)
			if errors.Is(err, pgx.ErrNoRows) {
				// ON CONFLICT DO NOTHING
				return nil
			}
			if err != nil {
				return err
			}
			inserted = true
			return nil
		})
	})
	return inserted, err
}

// ListSubscriptions returns the user's subscriptions, newest first. An empty
// status means all.
func (r *SubscriptionRepository) ListSubscriptions(ctx context.Context, userID int64, status string) ([]model.Subscription, error) {
	query := `
        SELECT id, user_id, email_id, email_account_tracked_from, subscription_name, category,
               amount::float8, currency_code, currency_symbol, billing_frequency, renewal_date,
               date, statement, confidence, status, created_at, last_updated
        FROM subscriptions
        WHERE user_id = $1 AND ($2 = '' OR status = $2)
        ORDER BY created_at DESC
    `
	var out []model.Subscription
	err := otel.WithDBSpan(ctx, "select", "subscriptions", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, userID, status)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				s            model.Subscription
				code, symbol *string
				freq         string
			)
			if err := rows.Scan(
				&s.ID, &s.UserID, &s.EmailID, &s.EmailAccountTrackedFrom, &s.SubscriptionName, &s.Category,
				&s.Amount, &code, &symbol, &freq, &s.RenewalDate,
				&s.Date, &s.Statement, &s.Confidence, &s.Status, &s.CreatedAt, &s.LastUpdated,
			); err != nil {
				return err
			}
			s.BillingFrequency = model.BillingFrequency(freq)
			if code != nil {
				s.Currency = &model.Currency{Code: *code, Symbol: lo.FromPtr(symbol)}
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

// ListUntracked returns the user's untracked emails, newest first. An empty
// status means all.
func (r *SubscriptionRepository) ListUntracked(ctx context.Context, userID int64, status string) ([]model.UntrackedEmail, error) {
	query := `
        SELECT id, user_id, email_id, email_account_tracked_from, content, analysis, status, created_at
        FROM untracked_emails
        WHERE user_id = $1 AND ($2 = '' OR status = $2)
        ORDER BY created_at DESC
    `
	var out []model.UntrackedEmail
	err := otel.WithDBSpan(ctx, "select", "untracked_emails", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, userID, status)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				u                 model.UntrackedEmail
				content, analysis []byte
			)
			if err := rows.Scan(&u.ID, &u.UserID, &u.EmailID, &u.EmailAccountTrackedFrom, &content, &analysis, &u.Status, &u.CreatedAt); err != nil {
				return err
			}
			if err := json.Unmarshal(content, &u.Content); err != nil {
				return fmt.Errorf("decode content of untracked email %d: %w", u.ID, err)
			}
			if err := json.Unmarshal(analysis, &u.Analysis); err != nil {
				return fmt.Errorf("decode analysis of untracked email %d: %w", u.ID, err)
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	return out, err
}

// Stats sums active subscription amounts per category and counts the
// pending untracked emails.
func (r *SubscriptionRepository) Stats(ctx context.Context, userID int64) (*model.SubscriptionStats, error) {
	query := `
        SELECT category, COALESCE(SUM(amount), 0)::float8, COUNT(*)
        FROM subscriptions
        WHERE user_id = $1 AND status = 'active'
        GROUP BY category
        ORDER BY category
    `
	stats := &model.SubscriptionStats{Categories: []model.CategoryStat{}}
	err := otel.WithDBSpan(ctx, "select", "subscriptions", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		stats.Categories, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CategoryStat, error) {
			var c model.CategoryStat
			err := row.Scan(&c.Category, &c.Total, &c.Count)
			return c, err
		})
		if err != nil {
			return err
		}
		stats.Total = lo.SumBy(stats.Categories, func(c model.CategoryStat) float64 { return c.Total })

		return r.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM untracked_emails WHERE user_id = $1 AND status = 'pending_review'`,
			userID,
		).Scan(&stats.Untracked)
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
