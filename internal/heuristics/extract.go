package heuristics

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
	"github.com/samber/lo"

	"subtrack/internal/mailparse"
	"subtrack/internal/model"
)

// Fields is the best-effort structured data pulled from one message.
// Missing values stay nil / empty / "unknown".
type Fields struct {
	Amount           *float64               `json:"amount"`
	Currency         *model.Currency        `json:"currency"`
	RenewalDate      *time.Time             `json:"renewalDate"`
	SubscriptionName string                 `json:"subscriptionName"`
	BillingFrequency model.BillingFrequency `json:"billingFrequency"`
}

// Extract runs every field extractor over bodyText and the From header.
func (e *Engine) Extract(bodyText, from string) Fields {
	f := Fields{
		RenewalDate:      e.RenewalDate(bodyText),
		SubscriptionName: ServiceName(bodyText, from),
		BillingFrequency: e.BillingFrequency(bodyText),
	}
	if amount, currency, ok := e.Amount(bodyText); ok {
		f.Amount = &amount
		f.Currency = &currency
	}
	return f
}

type amountMatch struct {
	start    int
	number   string
	currency string
}

// Amount returns the first amount, by position in text, that parses to a
// finite number, together with its normalised currency.
func (e *Engine) Amount(text string) (float64, model.Currency, bool) {
	var matches []amountMatch

	for i, re := range e.amountPatterns {
		for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
			m := amountMatch{start: idx[0]}
			if i == 0 {
				m.currency, m.number = text[idx[2]:idx[3]], text[idx[4]:idx[5]]
			} else {
				m.number, m.currency = text[idx[2]:idx[3]], text[idx[4]:idx[5]]
			}
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	for _, m := range matches {
		amount, ok := ParseAmount(m.number)
		if !ok {
			continue
		}
		return amount, NormalizeCurrency(m.currency), true
	}
	return 0, model.Currency{}, false
}

var (
	groupedComma = regexp.MustCompile(`^\d{1,3}(,\d{3})+$`)
	groupedDot   = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
)

// ParseAmount accepts "1,234.56", "1.234,56", "15,99", "1.000" and plain digits.
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if groupedComma.MatchString(s) {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if groupedDot.MatchString(s) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Jan. 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"01/02/2006",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
}

// RenewalDate tries each renewal label in order; the first label whose
// captured text parses as a date wins.
func (e *Engine) RenewalDate(text string) *time.Time {
	for _, re := range e.renewalLabels {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if t, ok := e.parseDate(m[1]); ok {
				return &t
			}
		}
	}
	return nil
}

// parseDate tries the whole capture, then shorter word prefixes of it, since
// the capture runs to the end of the line.
func (e *Engine) parseDate(raw string) (time.Time, bool) {
	words := strings.Fields(raw)
	if len(words) == 0 {
		return time.Time{}, false
	}

	candidates := []string{strings.Join(words, " ")}
	for n := min(len(words), 5); n >= 1; n-- {
		candidates = append(candidates, strings.Join(words[:n], " "))
	}

	cfg := &dps.Configuration{
		CurrentTime:         e.now(),
		DefaultTimezone:     time.UTC,
		PreferredDateSource: dps.Future,
	}

	for _, c := range lo.Uniq(candidates) {
		c = strings.TrimRight(c, ".,;:)")
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, c, time.UTC); err == nil {
				return t, true
			}
		}
	}
	for _, c := range lo.Uniq(candidates) {
		c = strings.TrimRight(c, ".,;:)")
		if !strings.ContainsAny(c, "0123456789") {
			continue
		}
		if parsed, err := dps.Parse(cfg, c); err == nil && !parsed.Time.IsZero() {
			return parsed.Time.UTC(), true
		}
	}
	return time.Time{}, false
}

// BillingFrequency checks monthly, then yearly, then quarterly words.
func (e *Engine) BillingFrequency(text string) model.BillingFrequency {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, e.cfg[BucketMonthly]):
		return model.FrequencyMonthly
	case containsAny(lower, e.cfg[BucketYearly]):
		return model.FrequencyYearly
	case containsAny(lower, e.cfg[BucketQuarterly]):
		return model.FrequencyQuarterly
	}
	return model.FrequencyUnknown
}

var genericSenders = []string{"no-reply", "noreply", "billing", "support", "info", "team", "notifications", "receipts", "payments"}

// ServiceName prefers the From display name, then a known brand in the body,
// then the sender's domain.
func ServiceName(bodyText, from string) string {
	if name := mailparse.SenderDisplayName(from); name != "" && !isGenericSender(name) {
		return name
	}

	lower := strings.ToLower(bodyText)
	if b, ok := lo.Find(brands, func(b brand) bool {
		return strings.Contains(lower, b.token)
	}); ok {
		return b.name
	}

	return nameFromDomain(mailparse.SenderDomain(from))
}

func isGenericSender(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return lo.Contains(genericSenders, lower)
}

var secondLevelSuffixes = []string{"co", "com", "org", "net", "ac", "gov"}

// nameFromDomain turns "billing.netflix.com" into "Netflix".
func nameFromDomain(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return ""
	}
	label := labels[len(labels)-2]
	if len(labels) >= 3 && lo.Contains(secondLevelSuffixes, label) {
		label = labels[len(labels)-3]
	}
	if label == "" {
		return ""
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
