package bootstrap

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"subtrack/internal/classifier"
	"subtrack/internal/config"
	"subtrack/internal/gmail"
	"subtrack/internal/heuristics"
	"subtrack/internal/repository"
	"subtrack/internal/service/categorize"
	"subtrack/internal/service/mailsync"
	"subtrack/pkg/outbox"
	"subtrack/pkg/util"
)

// Pipeline bundles what the api and worker binaries share.
type Pipeline struct {
	Mailboxes     *repository.MailboxRepository
	Subscriptions *repository.SubscriptionRepository
	Sync          *mailsync.Service
	// Outbox is nil unless outbox.enabled is set.
	Outbox *outbox.Repository
}

// NewPipeline wires storage, the Gmail adapter, the classifier and the
// orchestrator into a sync driver. publisher may be nil. With the outbox
// enabled subscription.tracked is written transactionally and publisher is
// left to the outbox dispatcher.
func NewPipeline(cfg *config.Config, pool *pgxpool.Pool, rdb redis.Cmdable, publisher categorize.EventPublisher, logger *zap.Logger) *Pipeline {
	mailboxRepo := repository.NewMailboxRepository(pool, util.NewTokenCipher(cfg.Security.TokenKey))

	var outboxRepo *outbox.Repository
	var repoOpts []repository.SubscriptionOption
	if cfg.Outbox.Enabled {
		outboxRepo = outbox.NewRepository(pool)
		repoOpts = append(repoOpts, repository.WithOutbox(outboxRepo))
	}
	subscriptionRepo := repository.NewSubscriptionRepository(pool, repoOpts...)

	aiClassifier := classifier.New(classifier.NewOpenAICompleter(cfg.OpenAI), cfg.OpenAI, logger)

	opts := []categorize.Option{
		categorize.WithClaimer(util.NewDeduperWithLogger(rdb, cfg.Sync.ClaimTTL, logger)),
	}
	if publisher != nil && outboxRepo == nil {
		opts = append(opts, categorize.WithPublisher(publisher))
	}
	categorizer := categorize.NewService(
		subscriptionRepo,
		aiClassifier,
		heuristics.Default(),
		cfg.Classification.ConfidenceThreshold,
		logger,
		opts...,
	)

	factory := gmail.NewFactory(cfg.Gmail, mailboxRepo, logger,
		gmail.WithLocker(util.NewLocker(rdb, cfg.Sync.LockTTL)),
	)

	return &Pipeline{
		Mailboxes:     mailboxRepo,
		Subscriptions: subscriptionRepo,
		Sync:          mailsync.NewService(mailboxRepo, factory, categorizer, cfg.Sync, logger),
		Outbox:        outboxRepo,
	}
}
