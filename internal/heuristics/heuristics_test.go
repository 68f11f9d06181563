package heuristics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/model"
)

func TestDetectIntent(t *testing.T) {
	e := Default()

	tests := []struct {
		name    string
		subject string
		body    string
		want    Intent
	}{
		{"not financial", "50% OFF everything!", "Shop now and save big", Intent{}},
		{"invoice", "Your Netflix Invoice", "Thanks for watching", Intent{true, IntentInvoice}},
		{"subscription beats invoice", "Invoice for your subscription", "", Intent{true, IntentSubscription}},
		{"invoice beats payment", "Payment receipt", "", Intent{true, IntentInvoice}},
		{"payment", "We charged your card", "", Intent{true, IntentPayment}},
		{"currency marker only", "Hello", "It came to €12 in the end", Intent{true, IntentFinancial}},
		{"iso code on word boundary", "Hello", "Converted to EUR today", Intent{true, IntentFinancial}},
		{"iso code inside word", "Trip to Europe", "see you in the afternoon", Intent{}},
		{"label marker", "Hi", "Total: 9", Intent{true, IntentFinancial}},
		{"case insensitive", "YOUR SUBSCRIPTION", "", Intent{true, IntentSubscription}},
		{"bill inside billion", "Market update", "Revenue passed one billion this quarter", Intent{}},
		{"charge inside surcharge", "Travel notes", "A fuel surcharge may apply", Intent{}},
		{"inflected bill", "Your billing summary", "", Intent{true, IntentInvoice}},
		{"inflected charge", "Card update", "Charges will resume next week", Intent{true, IntentPayment}},
		{"unsubscribe is not a subscription", "Weekly digest", "Click to unsubscribe", Intent{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.DetectIntent(tt.body, tt.subject))
		})
	}
}

func TestRequiresManualAccess(t *testing.T) {
	e := Default()

	positive := []string{
		"View your invoice online at partner-portal.com/login",
		"Please DOWNLOAD INVOICE from the dashboard",
		"Log in to view your bill",
		"sign-in to view details",
		"Click to view bill",
		"Click here to view your statement",
		"View your statement",
		"Your invoice is now available online.",
	}
	for _, body := range positive {
		assert.True(t, e.RequiresManualAccess(body), body)
	}

	negative := []string{
		"Thank you, $15.99 was charged.",
		"Your plan renews monthly",
		"",
	}
	for _, body := range negative {
		assert.False(t, e.RequiresManualAccess(body), body)
	}
}

func TestCurrencyRoundTrip(t *testing.T) {
	for _, symbol := range Symbols() {
		c := NormalizeCurrency(symbol)
		assert.Equal(t, symbol, c.Symbol)
		assert.Equal(t, symbol, CanonicalSymbol(c.Code), "symbol %s via %s", symbol, c.Code)
	}
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, model.Currency{Symbol: "$", Code: "USD"}, NormalizeCurrency("$"))
	assert.Equal(t, model.Currency{Symbol: "€", Code: "EUR"}, NormalizeCurrency("EUR"))
	assert.Equal(t, model.Currency{Symbol: "£", Code: "GBP"}, NormalizeCurrency("gbp"))
	assert.Equal(t, model.Currency{Symbol: "CHF", Code: "CHF"}, NormalizeCurrency("CHF"))
	assert.Equal(t, model.Currency{Symbol: "SEK", Code: "SEK"}, NormalizeCurrency("SEK"))
}

func TestAmount(t *testing.T) {
	e := Default()

	tests := []struct {
		name     string
		text     string
		amount   float64
		currency model.Currency
		ok       bool
	}{
		{"symbol before", "Thank you, $15.99 was charged.", 15.99, model.Currency{Symbol: "$", Code: "USD"}, true},
		{"code after", "You paid 9.99 EUR today", 9.99, model.Currency{Symbol: "€", Code: "EUR"}, true},
		{"code before", "Amount: GBP 120", 120, model.Currency{Symbol: "£", Code: "GBP"}, true},
		{"thousands", "Total $1,234.50", 1234.50, model.Currency{Symbol: "$", Code: "USD"}, true},
		{"european decimal", "Betrag 12,50 €", 12.50, model.Currency{Symbol: "€", Code: "EUR"}, true},
		{"multi char symbol", "Charged NZ$20.00", 20, model.Currency{Symbol: "NZ$", Code: "NZD"}, true},
		{"first positional wins", "Subtotal $10.00, tax $1.00, total $11.00", 10, model.Currency{Symbol: "$", Code: "USD"}, true},
		{"code outside allow-list ignored", "Paid SEK 99", 0, model.Currency{}, false},
		{"non currency code skipped", "VAT 20 included, total €24", 24, model.Currency{Symbol: "€", Code: "EUR"}, true},
		{"month abbreviation skipped", "Billing period: MAR 01 2024 - MAR 31 2024\nTotal: $15.99", 15.99, model.Currency{Symbol: "$", Code: "USD"}, true},
		{"order prefix skipped", "Order ID INV 20240312. Amount: $9.99", 9.99, model.Currency{Symbol: "$", Code: "USD"}, true},
		{"lowercase code after", "paid 10 usd", 10, model.Currency{Symbol: "$", Code: "USD"}, true},
		{"lowercase code monthly", "15 usd monthly", 15, model.Currency{Symbol: "$", Code: "USD"}, true},
		{"mixed case code before", "Chf 30 per year", 30, model.Currency{Symbol: "CHF", Code: "CHF"}, true},
		{"none", "No amount here", 0, model.Currency{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, currency, ok := e.Amount(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.amount, amount, 1e-9)
				assert.Equal(t, tt.currency, currency)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := map[string]float64{
		"15":       15,
		"15.99":    15.99,
		"15,99":    15.99,
		"1,234":    1234,
		"1.234":    1234,
		"1,234.56": 1234.56,
		"1.234,56": 1234.56,
	}
	for in, want := range tests {
		got, ok := ParseAmount(in)
		require.True(t, ok, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}

	_, ok := ParseAmount("")
	assert.False(t, ok)
}

func TestRenewalDate(t *testing.T) {
	e := Default()
	e.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		text string
		want *time.Time
	}{
		{"iso", "Next charge on: 2024-04-01", ptrTime(2024, 4, 1)},
		{"long form with trailing text", "Renewal date: April 1, 2024. Thanks for staying", ptrTime(2024, 4, 1)},
		{"stops at tag", "Your plan will renew on: 2024-05-10<br>more", ptrTime(2024, 5, 10)},
		{"label order", "will renew on: 2024-06-01\nrenewal date: 2024-07-01", ptrTime(2024, 7, 1)},
		{"unparseable falls through to next label", "renewal date: soon\nnext charge on: 2024-08-01", ptrTime(2024, 8, 1)},
		{"absent", "Thanks for your order", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.RenewalDate(tt.text)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %v", got)
		})
	}
}

func TestBillingFrequency(t *testing.T) {
	e := Default()
	assert.Equal(t, model.FrequencyMonthly, e.BillingFrequency("Your Monthly plan"))
	assert.Equal(t, model.FrequencyYearly, e.BillingFrequency("Annual membership"))
	assert.Equal(t, model.FrequencyYearly, e.BillingFrequency("billed yearly"))
	assert.Equal(t, model.FrequencyQuarterly, e.BillingFrequency("Quarterly invoice"))
	assert.Equal(t, model.FrequencyMonthly, e.BillingFrequency("monthly, or annual if you prefer"))
	assert.Equal(t, model.FrequencyUnknown, e.BillingFrequency("thanks"))
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "Netflix", ServiceName("", `"Netflix" <info@mailer.netflix.com>`))
	assert.Equal(t, "Spotify", ServiceName("Your Spotify Premium receipt", `"no-reply" <x@mail.example.com>`))
	assert.Equal(t, "Linear", ServiceName("thanks", "billing@linear.app"))
	assert.Equal(t, "Acme", ServiceName("thanks", "billing@mail.acme.co.uk"))
	assert.Equal(t, "", ServiceName("thanks", ""))
}

func TestExtract_ScenarioA(t *testing.T) {
	e := Default()
	f := e.Extract("Thank you, $15.99 was charged. Next charge on: 2024-04-01", `"Netflix" <info@netflix.com>`)

	require.NotNil(t, f.Amount)
	assert.InDelta(t, 15.99, *f.Amount, 1e-9)
	require.NotNil(t, f.Currency)
	assert.Equal(t, "USD", f.Currency.Code)
	require.NotNil(t, f.RenewalDate)
	assert.Equal(t, "2024-04-01", f.RenewalDate.Format("2006-01-02"))
	assert.Equal(t, "Netflix", f.SubscriptionName)
	assert.Equal(t, model.FrequencyUnknown, f.BillingFrequency)
}

func TestNew_InvalidPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg[BucketManualAccess] = []string{"("}
	_, err := New(cfg)
	assert.Error(t, err)
}

func ptrTime(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}
