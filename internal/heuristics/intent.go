package heuristics

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

type IntentType string

const (
	IntentNone         IntentType = ""
	IntentInvoice      IntentType = "invoice"
	IntentSubscription IntentType = "subscription"
	IntentPayment      IntentType = "payment"
	IntentFinancial    IntentType = "financial"
)

type Intent struct {
	IsRelevant bool
	Type       IntentType
}

// DetectIntent scans the lowercased subject and body for any financial
// keyword. When several buckets match, subscription wins over invoice,
// invoice over payment, and a bare currency marker yields "financial".
func (e *Engine) DetectIntent(bodyText, subject string) Intent {
	text := strings.ToLower(subject + " " + bodyText)

	switch {
	case e.matchesBucket(text, BucketSubscription):
		return Intent{IsRelevant: true, Type: IntentSubscription}
	case e.matchesBucket(text, BucketInvoice):
		return Intent{IsRelevant: true, Type: IntentInvoice}
	case e.matchesBucket(text, BucketPayment):
		return Intent{IsRelevant: true, Type: IntentPayment}
	case e.hasCurrencyMarker(text):
		return Intent{IsRelevant: true, Type: IntentFinancial}
	}
	return Intent{}
}

func (e *Engine) matchesBucket(lower, bucket string) bool {
	re, ok := e.intents[bucket]
	return ok && re.MatchString(lower)
}

func (e *Engine) hasCurrencyMarker(lower string) bool {
	if containsAny(lower, e.markerSubstrings) {
		return true
	}
	return e.markerCodes != nil && e.markerCodes.MatchString(lower)
}

func containsAny(text string, keywords []string) bool {
	return lo.ContainsBy(keywords, func(kw string) bool {
		return kw != "" && strings.Contains(text, kw)
	})
}

// splitMarkers separates alphabetic 3-letter codes, matched on word
// boundaries so that "eur" does not fire inside "europe", from the rest.
func splitMarkers(markers []string) ([]string, *regexp.Regexp) {
	var subs, codes []string
	for _, m := range markers {
		m = strings.ToLower(m)
		if len(m) == 3 && isASCIIAlpha(m) {
			codes = append(codes, regexp.QuoteMeta(m))
			continue
		}
		subs = append(subs, m)
	}
	if len(codes) == 0 {
		return subs, nil
	}
	return subs, regexp.MustCompile(`\b(?:` + strings.Join(codes, "|") + `)\b`)
}

func isASCIIAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}
