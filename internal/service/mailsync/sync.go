package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"subtrack/internal/model"
	"subtrack/internal/service/categorize"
	"subtrack/pkg/config"
	"subtrack/pkg/logger"
	"subtrack/pkg/metrics"
	"subtrack/pkg/otel"
	"subtrack/pkg/util"
)

var ErrNoMailboxes = errors.New("no active mailbox connected")

// ErrMailboxUnauthorized is returned by a ClientFactory when the stored
// refresh token was revoked. The mailbox is marked as errored.
var ErrMailboxUnauthorized = errors.New("mailbox authorization revoked")

type MailboxStore interface {
	ListActiveByUser(ctx context.Context, userID int64) ([]model.ConnectedMailbox, error)
	MarkStatus(ctx context.Context, id int64, status string) error
	TouchLastSynced(ctx context.Context, id int64, at time.Time) error
}

// MailClient lists and fetches messages of one mailbox.
type MailClient interface {
	ListMessages(ctx context.Context, query string, pageSize int64, pageToken string) (ids []string, next string, err error)
	GetMessage(ctx context.Context, id string) (*model.RawMessage, error)
}

// ClientFactory returns a MailClient for mb, refreshing credentials when needed.
type ClientFactory interface {
	NewClient(ctx context.Context, mb model.ConnectedMailbox) (MailClient, error)
}

type Categorizer interface {
	CategorizeEmail(ctx context.Context, req categorize.Request) (*categorize.Decision, error)
}

type MessageError struct {
	MessageID    string `json:"messageId"`
	ErrorMessage string `json:"errorMessage"`
}

type MailboxError struct {
	Mailbox      string `json:"mailbox"`
	ErrorMessage string `json:"errorMessage"`
}

type Result struct {
	RunID          string         `json:"runId"`
	ProcessedCount int            `json:"processedCount"`
	Errors         []MessageError `json:"errors,omitempty"`
	MailboxErrors  []MailboxError `json:"mailboxErrors,omitempty"`
	Cancelled      bool           `json:"cancelled,omitempty"`
}

type Service struct {
	mailboxes   MailboxStore
	clients     ClientFactory
	categorizer Categorizer
	cfg         config.SyncConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(mailboxes MailboxStore, clients ClientFactory, categorizer Categorizer, cfg config.SyncConfig, l *zap.Logger) *Service {
	cfg.Defaults()
	return &Service{
		mailboxes:   mailboxes,
		clients:     clients,
		categorizer: categorizer,
		cfg:         cfg,
		logger:      l,
		now:         time.Now,
	}
}

// Sync runs one pass over every active mailbox of userID. Mailboxes are
// processed one after another; messages inside a mailbox go through a
// worker pool of cfg.Workers. Message and mailbox failures are collected
// into the result. An error is returned only when the mailboxes cannot be
// loaded.
func (s *Service) Sync(ctx context.Context, userID int64) (result *Result, err error) {
	start := s.now()
	result = &Result{RunID: uuid.NewString()}

	ctx, span := otel.StartSpan(ctx, "mailsync.sync")
	defer func() { otel.EndSpan(span, err) }()

	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("run_id", result.RunID),
		zap.Int64("user_id", userID),
	)

	defer func() {
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case result.Cancelled:
			status = "cancelled"
		case len(result.Errors) > 0 || len(result.MailboxErrors) > 0:
			status = "partial"
		}
		metrics.RecordSyncRun(status, time.Since(start))
	}()

	mailboxes, err := s.mailboxes.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	if len(mailboxes) == 0 {
		return nil, ErrNoMailboxes
	}

	log.Info("Sync started", zap.Int("mailboxes", len(mailboxes)))

	for _, mb := range mailboxes {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		s.syncMailbox(ctx, log, mb, result)
		if result.Cancelled {
			break
		}
	}

	log.Info("Sync finished",
		zap.Int("processed", result.ProcessedCount),
		zap.Int("errors", len(result.Errors)),
		zap.Int("mailbox_errors", len(result.MailboxErrors)),
		zap.Bool("cancelled", result.Cancelled),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (s *Service) syncMailbox(ctx context.Context, log *zap.Logger, mb model.ConnectedMailbox, result *Result) {
	log = log.With(zap.String("mailbox", mb.EmailAddress))

	client, err := s.clients.NewClient(ctx, mb)
	if err != nil {
		reason := "client"
		if errors.Is(err, ErrMailboxUnauthorized) {
			reason = "unauthorized"
			if markErr := s.mailboxes.MarkStatus(ctx, mb.ID, model.MailboxStatusError); markErr != nil {
				log.Error("Failed to mark mailbox as errored", zap.Error(markErr))
			}
		}
		s.mailboxFailed(log, mb, result, reason, err)
		return
	}

	ids, err := s.listCandidates(ctx, client)
	if err != nil {
		if ctx.Err() != nil {
			result.Cancelled = true
			return
		}
		s.mailboxFailed(log, mb, result, "list", err)
		return
	}
	log.Info("Candidate messages listed", zap.Int("count", len(ids)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)

	for _, id := range ids {
		// 消息之间检查取消，已启动的消息继续完成
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		g.Go(func() error {
			msgErr := s.processMessage(ctx, log, client, mb, id)

			mu.Lock()
			defer mu.Unlock()
			if msgErr != nil {
				_, errType := util.IsRetryableError(msgErr)
				log.Error("Message failed",
					zap.String("message_id", id),
					zap.String("error_type", errType),
					zap.Error(msgErr),
				)
				result.Errors = append(result.Errors, MessageError{MessageID: id, ErrorMessage: msgErr.Error()})
				return nil
			}
			result.ProcessedCount++
			return nil
		})
	}
	_ = g.Wait()

	if result.Cancelled {
		return
	}
	if err := s.mailboxes.TouchLastSynced(ctx, mb.ID, s.now()); err != nil {
		log.Warn("Failed to update last_synced_at", zap.Error(err))
	}
}

// listCandidates pages through the query until MaxResults ids are collected.
func (s *Service) listCandidates(ctx context.Context, client MailClient) ([]string, error) {
	var (
		ids   []string
		token string
	)
	for int64(len(ids)) < s.cfg.MaxResults {
		pageSize := min(s.cfg.PageSize, s.cfg.MaxResults-int64(len(ids)))
		page, next, err := client.ListMessages(ctx, s.cfg.Query, pageSize, token)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		ids = append(ids, page...)
		if next == "" || len(page) == 0 {
			break
		}
		token = next
	}
	if int64(len(ids)) > s.cfg.MaxResults {
		ids = ids[:s.cfg.MaxResults]
	}
	return ids, nil
}

func (s *Service) processMessage(ctx context.Context, log *zap.Logger, client MailClient, mb model.ConnectedMailbox, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MessageTimeout)
	defer cancel()

	msg, err := client.GetMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if msg.ID == "" {
		msg.ID = id
	}

	decision, err := s.categorizer.CategorizeEmail(ctx, categorize.Request{
		UserID:  mb.UserID,
		Mailbox: mb.EmailAddress,
		Message: msg,
	})
	if err != nil {
		return err
	}
	log.Debug("Message processed",
		zap.String("message_id", id),
		zap.String("outcome", string(decision.Outcome)),
	)
	return nil
}

func (s *Service) mailboxFailed(log *zap.Logger, mb model.ConnectedMailbox, result *Result, reason string, err error) {
	metrics.IncrementMailboxError(reason)
	log.Error("Mailbox sync failed", zap.String("reason", reason), zap.Error(err))
	result.MailboxErrors = append(result.MailboxErrors, MailboxError{Mailbox: mb.EmailAddress, ErrorMessage: err.Error()})
}
