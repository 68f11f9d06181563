package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"subtrack/internal/model"
	"subtrack/pkg/otel"
	"subtrack/pkg/util"
)

type MailboxRepository struct {
	db     *pgxpool.Pool
	cipher *util.TokenCipher
}

func NewMailboxRepository(db *pgxpool.Pool, cipher *util.TokenCipher) *MailboxRepository {
	return &MailboxRepository{db: db, cipher: cipher}
}

// ListActiveByUser returns the user's active mailboxes with decrypted tokens.
func (r *MailboxRepository) ListActiveByUser(ctx context.Context, userID int64) ([]model.ConnectedMailbox, error) {
	return r.list(ctx, userID, true)
}

// ListByUser returns every mailbox of the user. Tokens are left empty.
func (r *MailboxRepository) ListByUser(ctx context.Context, userID int64) ([]model.ConnectedMailbox, error) {
	return r.list(ctx, userID, false)
}

func (r *MailboxRepository) list(ctx context.Context, userID int64, activeOnly bool) ([]model.ConnectedMailbox, error) {
	query := `
        SELECT id, user_id, email_address, provider, access_token, refresh_token,
               token_expiry, status, last_synced_at, created_at
        FROM connected_mailboxes
        WHERE user_id = $1
    `
	if activeOnly {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY id`

	var out []model.ConnectedMailbox
	err := otel.WithDBSpan(ctx, "select", "connected_mailboxes", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				mb              model.ConnectedMailbox
				access, refresh string
			)
			if err := rows.Scan(
				&mb.ID,
				&mb.UserID,
				&mb.EmailAddress,
				&mb.Provider,
				&access,
				&refresh,
				&mb.TokenExpiry,
				&mb.Status,
				&mb.LastSyncedAt,
				&mb.CreatedAt,
			); err != nil {
				return err
			}
			if activeOnly {
				if mb.AccessToken, err = r.cipher.Decrypt(access); err != nil {
					return fmt.Errorf("decrypt access token of mailbox %d: %w", mb.ID, err)
				}
				if mb.RefreshToken, err = r.cipher.Decrypt(refresh); err != nil {
					return fmt.Errorf("decrypt refresh token of mailbox %d: %w", mb.ID, err)
				}
			}
			out = append(out, mb)
		}
		return rows.Err()
	})
	return out, err
}

// Upsert stores a mailbox connection, re-activating an existing one.
func (r *MailboxRepository) Upsert(ctx context.Context, mb *model.ConnectedMailbox) error {
	access, err := r.cipher.Encrypt(mb.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := r.cipher.Encrypt(mb.RefreshToken)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO connected_mailboxes (user_id, email_address, provider, access_token, refresh_token, token_expiry, status)
        VALUES ($1, $2, $3, $4, $5, $6, 'active')
        ON CONFLICT (user_id, email_address) DO UPDATE
        SET access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            token_expiry = EXCLUDED.token_expiry,
            status = 'active',
            updated_at = NOW()
        RETURNING id, created_at
    `
	provider := mb.Provider
	if provider == "" {
		provider = "gmail"
	}
	return otel.WithDBSpan(ctx, "upsert", "connected_mailboxes", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, mb.UserID, mb.EmailAddress, provider, access, refresh, mb.TokenExpiry).
			Scan(&mb.ID, &mb.CreatedAt)
	})
}

// UpdateTokens persists refreshed credentials. Called under the mailbox lock.
func (r *MailboxRepository) UpdateTokens(ctx context.Context, mailboxID int64, accessToken, refreshToken string, expiry time.Time) error {
	access, err := r.cipher.Encrypt(accessToken)
	if err != nil {
		return err
	}
	refresh, err := r.cipher.Encrypt(refreshToken)
	if err != nil {
		return err
	}

	query := `
        UPDATE connected_mailboxes
        SET access_token = $1, refresh_token = $2, token_expiry = $3, updated_at = NOW()
        WHERE id = $4
    `
	return otel.WithDBSpan(ctx, "update", "connected_mailboxes", func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query, access, refresh, expiry, mailboxID)
		return err
	})
}

func (r *MailboxRepository) MarkStatus(ctx context.Context, id int64, status string) error {
	query := `
        UPDATE connected_mailboxes
        SET status = $1, updated_at = NOW()
        WHERE id = $2
    `
	return otel.WithDBSpan(ctx, "update", "connected_mailboxes", func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query, status, id)
		return err
	})
}

func (r *MailboxRepository) TouchLastSynced(ctx context.Context, id int64, at time.Time) error {
	query := `
        UPDATE connected_mailboxes
        SET last_synced_at = $1
        WHERE id = $2
    `
	return otel.WithDBSpan(ctx, "update", "connected_mailboxes", func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query, at, id)
		return err
	})
}
