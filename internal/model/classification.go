package model

import "time"

// Category values accepted from the classifier.
const (
	CategorySoftware       = "Software & SaaS"
	CategoryMedia          = "Media & Content"
	CategoryECommerce      = "E-Commerce"
	CategoryInfrastructure = "IT Infrastructure"
	CategoryUnknown        = "Unknown"
	CategoryAdvertisement  = "Advertisement"
)

// Categories lists every category in prompt order.
var Categories = []string{
	CategorySoftware,
	CategoryMedia,
	CategoryECommerce,
	CategoryInfrastructure,
	CategoryUnknown,
	CategoryAdvertisement,
}

type BillingFrequency string

const (
	FrequencyMonthly   BillingFrequency = "monthly"
	FrequencyYearly    BillingFrequency = "yearly"
	FrequencyQuarterly BillingFrequency = "quarterly"
	FrequencyOneTime   BillingFrequency = "one-time"
	FrequencyUnknown   BillingFrequency = "unknown"
)

// Valid reports whether f is one of the known frequencies.
func (f BillingFrequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyYearly, FrequencyQuarterly, FrequencyOneTime, FrequencyUnknown:
		return true
	}
	return false
}

type Currency struct {
	Symbol string `json:"symbol"`
	Code   string `json:"code"`
}

type ClassificationResult struct {
	IsSubscription       bool             `json:"isSubscription"`
	RequiresManualAccess bool             `json:"requiresManualAccess"`
	Category             string           `json:"category"`
	Confidence           float64          `json:"confidence"`
	ServiceName          string           `json:"serviceName,omitempty"`
	Amount               *float64         `json:"amount"`
	Currency             *Currency        `json:"currency"`
	BillingFrequency     BillingFrequency `json:"billingFrequency"`
	RenewalDate          *time.Time       `json:"renewalDate"`
}

// DefaultClassification is the conservative result used whenever the
// classifier cannot produce a usable answer.
func DefaultClassification() ClassificationResult {
	return ClassificationResult{
		Category:         CategoryUnknown,
		IsSubscription:   false,
		Confidence:       0.5,
		BillingFrequency: FrequencyUnknown,
	}
}
