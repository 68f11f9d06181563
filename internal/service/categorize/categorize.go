package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	contractmq "subtrack/contracts/mq"
	"subtrack/internal/classifier"
	"subtrack/internal/heuristics"
	"subtrack/internal/mailparse"
	"subtrack/internal/model"
	"subtrack/pkg/logger"
	"subtrack/pkg/metrics"
	"subtrack/pkg/otel"
	"subtrack/pkg/trace"
)

const (
	dedupHandler      = "categorize"
	maxStoredBodyRune = 10000
)

var ErrInvalidMessage = errors.New("message has no id")

// Store persists the two outcome collections. Save* report false when a row
// for (userID, emailID) already existed in either collection.
type Store interface {
	HasProcessed(ctx context.Context, userID int64, emailID string) (bool, error)
	SaveSubscription(ctx context.Context, s *model.Subscription) (bool, error)
	SaveUntracked(ctx context.Context, u *model.UntrackedEmail) (bool, error)
}

type EmailClassifier interface {
	Classify(ctx context.Context, in classifier.Input) classifier.Result
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Claimer is a fast-path guard in front of the store's own uniqueness.
type Claimer interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

type Outcome string

const (
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeDropped      Outcome = "dropped"
	OutcomeManualAccess Outcome = "manual_access"
	OutcomeTracked      Outcome = "tracked"
	OutcomeUntracked    Outcome = "untracked"
)

// Request is one message of one mailbox.
type Request struct {
	UserID  int64
	Mailbox string
	Message *model.RawMessage
}

type Decision struct {
	Outcome        Outcome
	Intent         heuristics.Intent
	Classification *model.ClassificationResult
	Subscription   *model.Subscription
	Untracked      *model.UntrackedEmail
}

type Service struct {
	store      Store
	classifier EmailClassifier
	engine     *heuristics.Engine
	threshold  float64
	publisher  EventPublisher
	claimer    Claimer
	logger     *zap.Logger
}

type Option func(*Service)

// WithPublisher emits subscription.tracked directly after each tracked
// message. Leave it unset when the store writes the event to the outbox.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClaimer adds a Redis claim in front of the idempotency check.
func WithClaimer(c Claimer) Option {
	return func(s *Service) { s.claimer = c }
}

func NewService(store Store, c EmailClassifier, engine *heuristics.Engine, threshold float64, l *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		classifier: c,
		engine:     engine,
		threshold:  threshold,
		logger:     l,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CategorizeEmail runs one message through decode, intent, manual-access,
// extraction and classification, then persists at most one row for it.
// Only storage failures and cancellation are returned as errors.
func (s *Service) CategorizeEmail(ctx context.Context, req Request) (decision *Decision, err error) {
	if req.Message == nil || req.Message.ID == "" {
		return nil, ErrInvalidMessage
	}

	ctx, span := otel.StartSpan(ctx, "categorize.email")
	defer func() { otel.EndSpan(span, err) }()

	log := logger.WithTrace(ctx, s.logger).With(
		zap.Int64("user_id", req.UserID),
		zap.String("mailbox", req.Mailbox),
		zap.String("message_id", req.Message.ID),
	)

	claimID := fmt.Sprintf("%d:%s", req.UserID, req.Message.ID)
	if s.claimer != nil {
		if !s.claimer.AcquireOnce(ctx, dedupHandler, claimID) {
			return s.done(log, &Decision{Outcome: OutcomeDuplicate}), nil
		}
		defer func() {
			if err != nil {
				s.claimer.Release(context.WithoutCancel(ctx), dedupHandler, claimID)
			}
		}()
	}

	processed, err := s.store.HasProcessed(ctx, req.UserID, req.Message.ID)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if processed {
		return s.done(log, &Decision{Outcome: OutcomeDuplicate}), nil
	}

	content := mailparse.Parse(req.Message)

	intent := s.engine.DetectIntent(content.BodyText, content.Subject)
	if !intent.IsRelevant {
		return s.done(log, &Decision{Outcome: OutcomeDropped, Intent: intent}), nil
	}

	if s.engine.RequiresManualAccess(content.BodyText) {
		analysis := model.DefaultClassification()
		analysis.RequiresManualAccess = true
		analysis.Confidence = 0
		analysis.ServiceName = heuristics.ServiceName(content.BodyText, content.From)
		return s.persistUntracked(ctx, log, req, content, intent, &analysis, OutcomeManualAccess)
	}

	fields := s.engine.Extract(content.BodyText, content.From)

	in := classifier.Input{
		Subject:   content.Subject,
		From:      content.From,
		Body:      content.BodyText,
		Extracted: fields,
	}
	if !content.Date.IsZero() {
		in.Date = content.Date.Format(time.RFC3339)
	}
	result := s.classifier.Classify(ctx, in)
	if result.Drop() {
		return s.done(log, &Decision{Outcome: OutcomeDropped, Intent: intent, Classification: &result.Classification}), nil
	}

	final := merge(result.Classification, fields)

	if !s.ShouldTrack(final) {
		return s.persistUntracked(ctx, log, req, content, intent, &final, OutcomeUntracked)
	}
	return s.persistSubscription(ctx, log, req, content, intent, &final)
}

// ShouldTrack is the tracking rule: confidence strictly above the threshold,
// flagged as a subscription, and an amount extracted from the body.
func (s *Service) ShouldTrack(c model.ClassificationResult) bool {
	return c.Confidence > s.threshold && c.IsSubscription && c.Amount != nil
}

// merge overlays extracted fields on the model answer. Amount and currency
// come only from extraction; the model's own amount never substitutes.
func merge(ai model.ClassificationResult, f heuristics.Fields) model.ClassificationResult {
	out := ai
	out.Amount = f.Amount
	out.Currency = f.Currency
	out.RenewalDate = f.RenewalDate
	if f.SubscriptionName != "" {
		out.ServiceName = f.SubscriptionName
	}
	if f.BillingFrequency != model.FrequencyUnknown && f.BillingFrequency != "" {
		out.BillingFrequency = f.BillingFrequency
	}
	if !out.BillingFrequency.Valid() {
		out.BillingFrequency = model.FrequencyUnknown
	}
	return out
}

func (s *Service) persistSubscription(ctx context.Context, log *zap.Logger, req Request, content model.ParsedEmailContent, intent heuristics.Intent, c *model.ClassificationResult) (*Decision, error) {
	name := c.ServiceName
	if name == "" {
		name = model.CategoryUnknown
	}

	sub := &model.Subscription{
		UserID:                  req.UserID,
		EmailID:                 req.Message.ID,
		EmailAccountTrackedFrom: req.Mailbox,
		SubscriptionName:        name,
		Category:                c.Category,
		Amount:                  *c.Amount,
		Currency:                c.Currency,
		BillingFrequency:        c.BillingFrequency,
		RenewalDate:             c.RenewalDate,
		Date:                    mailparse.MessageDate(content),
		Statement:               content.Subject,
		Confidence:              c.Confidence,
		Status:                  model.SubscriptionStatusActive,
	}

	inserted, err := s.store.SaveSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	if !inserted {
		return s.done(log, &Decision{Outcome: OutcomeDuplicate, Intent: intent, Classification: c}), nil
	}

	s.publishTracked(ctx, log, sub)
	return s.done(log, &Decision{Outcome: OutcomeTracked, Intent: intent, Classification: c, Subscription: sub}), nil
}

func (s *Service) persistUntracked(ctx context.Context, log *zap.Logger, req Request, content model.ParsedEmailContent, intent heuristics.Intent, c *model.ClassificationResult, outcome Outcome) (*Decision, error) {
	u := &model.UntrackedEmail{
		UserID:                  req.UserID,
		EmailID:                 req.Message.ID,
		EmailAccountTrackedFrom: req.Mailbox,
		Content: model.UntrackedContent{
			Subject:              content.Subject,
			Body:                 truncateRunes(content.BodyText, maxStoredBodyRune),
			Sender:               content.From,
			Date:                 mailparse.MessageDate(content),
			RequiresManualAccess: c.RequiresManualAccess,
			IntentType:           string(intent.Type),
		},
		Analysis: c,
		Status:   model.UntrackedStatusPendingReview,
	}

	inserted, err := s.store.SaveUntracked(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("save untracked email: %w", err)
	}
	if !inserted {
		return s.done(log, &Decision{Outcome: OutcomeDuplicate, Intent: intent, Classification: c}), nil
	}
	return s.done(log, &Decision{Outcome: outcome, Intent: intent, Classification: c, Untracked: u}), nil
}

func (s *Service) publishTracked(ctx context.Context, log *zap.Logger, sub *model.Subscription) {
	if s.publisher == nil {
		return
	}
	payload := sub.TrackedEvent(trace.FromContext(ctx))
	if err := s.publisher.Publish(ctx, contractmq.RoutingKeySubscriptionTracked, payload); err != nil {
		log.Warn("Failed to publish subscription.tracked", zap.Error(err))
	}
}

func (s *Service) done(log *zap.Logger, d *Decision) *Decision {
	metrics.IncrementEmailProcessed(string(d.Outcome))
	fields := []zap.Field{zap.String("outcome", string(d.Outcome))}
	if d.Intent.Type != "" {
		fields = append(fields, zap.String("intent", string(d.Intent.Type)))
	}
	if d.Classification != nil {
		fields = append(fields,
			zap.String("category", d.Classification.Category),
			zap.Float64("confidence", d.Classification.Confidence),
		)
	}
	log.Info("Email categorized", fields...)
	return d
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit]))
}
