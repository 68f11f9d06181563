package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	mqcontracts "subtrack/contracts/mq"
	"subtrack/internal/service/mailsync"
	"subtrack/pkg/logger"
	"subtrack/pkg/util"
)

const (
	maxRetries   = 5 // 最大重试次数
	retryHandler = "sync"
)

type Syncer interface {
	Sync(ctx context.Context, userID int64) (*mailsync.Result, error)
}

type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

type Locker interface {
	Lock(ctx context.Context, name string) (func(), error)
}

type SyncRequestedHandler struct {
	syncer       Syncer
	retryCounter RetryCounter
	dlq          DeadLetterPublisher
	locker       Locker
	logger       *zap.Logger
}

// NewSyncRequestedHandler builds the worker handler. locker may be nil.
func NewSyncRequestedHandler(
	syncer Syncer,
	retryCounter RetryCounter,
	dlq DeadLetterPublisher,
	locker Locker,
	logger *zap.Logger,
) *SyncRequestedHandler {
	return &SyncRequestedHandler{
		syncer:       syncer,
		retryCounter: retryCounter,
		dlq:          dlq,
		locker:       locker,
		logger:       logger,
	}
}

// HandleSyncRequested runs the sync driver for one mailbox.sync.requested
// event. It returns an error only for retryable failures below maxRetries,
// so the consumer requeues them. Everything else is acked, with poison
// messages moved to the DLQ.
func (h *SyncRequestedHandler) HandleSyncRequested(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.SyncRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal sync request (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		h.deadLetter(ctx, log, raw, fmt.Errorf("json_unmarshal_error: %w", err))
		return nil
	}
	if p.UserID <= 0 {
		h.deadLetter(ctx, log, raw, fmt.Errorf("invalid user id %d", p.UserID))
		return nil
	}

	log = log.With(zap.String("request_id", p.RequestID), zap.Int64("user_id", p.UserID))

	// 同一用户同时只跑一个同步
	if h.locker != nil {
		unlock, err := h.locker.Lock(ctx, "sync:user:"+strconv.FormatInt(p.UserID, 10))
		if errors.Is(err, util.ErrLockNotAcquired) {
			log.Info("Sync already running for user, skipping")
			return nil
		}
		if err != nil {
			log.Warn("Failed to acquire sync lock, continuing anyway", zap.Error(err))
		} else {
			defer unlock()
		}
	}

	retryKey := util.FormatRetryKey(retryHandler, retryID(p))

	result, err := h.syncer.Sync(ctx, p.UserID)
	if errors.Is(err, mailsync.ErrNoMailboxes) {
		log.Info("No active mailbox, nothing to sync")
		_ = h.retryCounter.Reset(ctx, retryKey)
		return nil
	}
	if err != nil {
		return h.onFailure(ctx, log, raw, retryKey, err)
	}

	// 同步成功，重置重试计数
	_ = h.retryCounter.Reset(ctx, retryKey)

	log.Info("Sync request handled",
		zap.String("run_id", result.RunID),
		zap.Int("processed", result.ProcessedCount),
		zap.Int("errors", len(result.Errors)),
		zap.Int("mailbox_errors", len(result.MailboxErrors)),
	)
	return nil
}

func (h *SyncRequestedHandler) onFailure(ctx context.Context, log *zap.Logger, raw json.RawMessage, retryKey string, err error) error {
	isRetryable, errType := util.IsRetryableError(err)

	retryCount, rerr := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if rerr != nil {
		// Redis 错误不影响处理
		log.Warn("Failed to get retry count, continuing anyway", zap.Error(rerr))
		retryCount = 1
	}

	log.Error("Sync failed",
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry_count", retryCount),
		zap.Error(err),
	)

	if !util.ShouldRetry(retryCount, maxRetries, isRetryable) {
		h.deadLetter(ctx, log, raw, err)
		_ = h.retryCounter.Reset(ctx, retryKey)
		return nil
	}
	// 可重试错误且未超过最大次数 - 返回 error，让 consumer nack 并重试
	return err
}

func (h *SyncRequestedHandler) deadLetter(ctx context.Context, log *zap.Logger, raw json.RawMessage, cause error) {
	if err := h.dlq.PublishToDLQ(ctx, mqcontracts.RoutingKeySyncRequested, raw, cause.Error()); err != nil {
		log.Error("Failed to publish to DLQ", zap.Error(err))
	}
}

func retryID(p mqcontracts.SyncRequestedPayload) string {
	if p.RequestID != "" {
		return p.RequestID
	}
	return "user-" + strconv.FormatInt(p.UserID, 10)
}
