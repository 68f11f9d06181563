package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "subtrack/contracts/mq"
	"subtrack/internal/service/mailsync"
	"subtrack/pkg/logger"
	"subtrack/pkg/trace"
)

type Syncer interface {
	Sync(ctx context.Context, userID int64) (*mailsync.Result, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type SyncHandler struct {
	syncer    Syncer
	publisher EventPublisher
	logger    *zap.Logger
}

// NewSyncHandler wires the sync endpoints. publisher may be nil, in which
// case POST /sync/async answers 503.
func NewSyncHandler(syncer Syncer, publisher EventPublisher, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{syncer: syncer, publisher: publisher, logger: logger}
}

// Sync handles POST /sync
func (h *SyncHandler) Sync(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	log := logger.WithTrace(c.Request.Context(), h.logger)

	result, err := h.syncer.Sync(c.Request.Context(), userID)
	if errors.Is(err, mailsync.ErrNoMailboxes) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no connected mailbox found"})
		return
	}
	if err != nil {
		log.Error("Sync failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "sync failed"})
		return
	}

	resp := gin.H{
		"success":         true,
		"runId":           result.RunID,
		"processedEmails": result.ProcessedCount,
	}
	if len(result.Errors) > 0 {
		resp["errors"] = result.Errors
	}
	if len(result.MailboxErrors) > 0 {
		resp["mailboxErrors"] = result.MailboxErrors
	}
	if result.Cancelled {
		resp["cancelled"] = true
	}
	c.JSON(http.StatusOK, resp)
}

// SyncAsync handles POST /sync/async
// 发布 mailbox.sync.requested 事件，由 worker 执行同步
func (h *SyncHandler) SyncAsync(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async sync unavailable"})
		return
	}

	payload := mqcontracts.SyncRequestedPayload{
		RequestID:   uuid.NewString(),
		UserID:      userID,
		RequestedAt: time.Now().UTC(),
		TraceID:     trace.FromContext(c.Request.Context()),
	}
	if err := h.publisher.Publish(c.Request.Context(), mqcontracts.RoutingKeySyncRequested, payload); err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to publish sync request",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue sync"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"queued": true, "requestId": payload.RequestID})
}
