package mq

import "time"

// Routing keys on the events exchange.
const (
	RoutingKeySyncRequested       = "mailbox.sync.requested"
	RoutingKeySubscriptionTracked = "subscription.tracked"
)

// SyncRequestedPayload asks a worker to run a full sync for one user.
type SyncRequestedPayload struct {
	RequestID   string    `json:"request_id"`
	UserID      int64     `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// SubscriptionTrackedPayload is emitted after a subscription row is inserted.
type SubscriptionTrackedPayload struct {
	SubscriptionID   int64      `json:"subscription_id"`
	UserID           int64      `json:"user_id"`
	EmailID          string     `json:"email_id"`
	Name             string     `json:"name"`
	Category         string     `json:"category"`
	Amount           float64    `json:"amount"`
	CurrencyCode     string     `json:"currency_code,omitempty"`
	BillingFrequency string     `json:"billing_frequency"`
	RenewalDate      *time.Time `json:"renewal_date,omitempty"`
	TraceID          string     `json:"trace_id,omitempty"`
}
