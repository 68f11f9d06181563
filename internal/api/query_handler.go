package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"subtrack/internal/model"
	"subtrack/pkg/logger"
)

type SubscriptionReader interface {
	ListSubscriptions(ctx context.Context, userID int64, status string) ([]model.Subscription, error)
	ListUntracked(ctx context.Context, userID int64, status string) ([]model.UntrackedEmail, error)
	Stats(ctx context.Context, userID int64) (*model.SubscriptionStats, error)
}

type MailboxLister interface {
	ListByUser(ctx context.Context, userID int64) ([]model.ConnectedMailbox, error)
}

type QueryHandler struct {
	subs      SubscriptionReader
	mailboxes MailboxLister
	logger    *zap.Logger
}

func NewQueryHandler(subs SubscriptionReader, mailboxes MailboxLister, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{subs: subs, mailboxes: mailboxes, logger: logger}
}

// ListSubscriptions handles GET /subscriptions?status=
func (h *QueryHandler) ListSubscriptions(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	subs, err := h.subs.ListSubscriptions(c.Request.Context(), userID, c.Query("status"))
	if err != nil {
		h.fail(c, "failed to load subscriptions", err)
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// ListUntracked handles GET /untracked-emails?status=
func (h *QueryHandler) ListUntracked(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	emails, err := h.subs.ListUntracked(c.Request.Context(), userID, c.Query("status"))
	if err != nil {
		h.fail(c, "failed to load untracked emails", err)
		return
	}
	if emails == nil {
		emails = []model.UntrackedEmail{}
	}
	c.JSON(http.StatusOK, gin.H{"untrackedEmails": emails, "count": len(emails)})
}

// Stats handles GET /subscriptions/stats
func (h *QueryHandler) Stats(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	stats, err := h.subs.Stats(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "failed to load stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListMailboxes handles GET /mailboxes
func (h *QueryHandler) ListMailboxes(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	mailboxes, err := h.mailboxes.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "failed to load mailboxes", err)
		return
	}
	if mailboxes == nil {
		mailboxes = []model.ConnectedMailbox{}
	}
	c.JSON(http.StatusOK, gin.H{"connectedEmails": mailboxes, "count": len(mailboxes)})
}

func (h *QueryHandler) fail(c *gin.Context, msg string, err error) {
	logger.WithTrace(c.Request.Context(), h.logger).Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
