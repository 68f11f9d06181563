package model

import (
	"time"

	"subtrack/contracts/mq"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"

	UntrackedStatusPendingReview = "pending_review"

	MailboxStatusActive = "active"
	MailboxStatusError  = "error"
)

type Subscription struct {
	ID                      int64            `json:"id"`
	UserID                  int64            `json:"userId"`
	EmailID                 string           `json:"emailId"`
	EmailAccountTrackedFrom string           `json:"emailAccountTrackedFrom"`
	SubscriptionName        string           `json:"subscriptionName"`
	Category                string           `json:"category"`
	Amount                  float64          `json:"amount"`
	Currency                *Currency        `json:"currency,omitempty"`
	BillingFrequency        BillingFrequency `json:"billingFrequency"`
	RenewalDate             *time.Time       `json:"renewalDate,omitempty"`
	Date                    *time.Time       `json:"date,omitempty"`
	Statement               string           `json:"statement"`
	Confidence              float64          `json:"confidence"`
	Status                  string           `json:"status"`
	CreatedAt               time.Time        `json:"createdAt"`
	LastUpdated             time.Time        `json:"lastUpdated"`
}

// UntrackedContent is the message snapshot kept for human review.
type UntrackedContent struct {
	Subject              string     `json:"subject"`
	Body                 string     `json:"body"`
	Sender               string     `json:"sender"`
	Date                 *time.Time `json:"date,omitempty"`
	RequiresManualAccess bool       `json:"requiresManualAccess"`
	IntentType           string     `json:"intentType,omitempty"`
}

type UntrackedEmail struct {
	ID                      int64                 `json:"id"`
	UserID                  int64                 `json:"userId"`
	EmailID                 string                `json:"emailId"`
	EmailAccountTrackedFrom string                `json:"emailAccountTrackedFrom"`
	Content                 UntrackedContent      `json:"content"`
	Analysis                *ClassificationResult `json:"analysis"`
	Status                  string                `json:"status"`
	CreatedAt               time.Time             `json:"createdAt"`
}

type ConnectedMailbox struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"userId"`
	EmailAddress string     `json:"emailAddress"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"-"`
	Status       string     `json:"status"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// CategoryStat is one row of the per-category spend summary.
type CategoryStat struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int64   `json:"count"`
}

type SubscriptionStats struct {
	Categories []CategoryStat `json:"categories"`
	Total      float64        `json:"total"`
	Untracked  int64          `json:"untracked"`
}

// TrackedEvent is the subscription.tracked payload for s.
func (s *Subscription) TrackedEvent(traceID string) mq.SubscriptionTrackedPayload {
	payload := mq.SubscriptionTrackedPayload{
		SubscriptionID:   s.ID,
		UserID:           s.UserID,
		EmailID:          s.EmailID,
		Name:             s.SubscriptionName,
		Category:         s.Category,
		Amount:           s.Amount,
		BillingFrequency: string(s.BillingFrequency),
		RenewalDate:      s.RenewalDate,
		TraceID:          traceID,
	}
	if s.Currency != nil {
		payload.CurrencyCode = s.Currency.Code
	}
	return payload
}
