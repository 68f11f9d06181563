package heuristics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Engine holds the compiled form of a Config. It is safe for concurrent use.
type Engine struct {
	cfg              Config
	markerSubstrings []string
	markerCodes      *regexp.Regexp
	manualAccess     []*regexp.Regexp
	renewalLabels    []*regexp.Regexp
	amountPatterns   []*regexp.Regexp
	intents          map[string]*regexp.Regexp
	now              func() time.Time
}

// New compiles cfg. It fails only on an invalid regular expression.
func New(cfg Config) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		intents: make(map[string]*regexp.Regexp),
		now:     time.Now,
	}

	for _, bucket := range []string{BucketSubscription, BucketInvoice, BucketPayment} {
		if re := keywordPattern(cfg[bucket]); re != nil {
			e.intents[bucket] = re
		}
	}

	e.markerSubstrings, e.markerCodes = splitMarkers(cfg[BucketCurrencyMarker])

	for _, p := range cfg[BucketManualAccess] {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("invalid manual access pattern %q: %w", p, err)
		}
		e.manualAccess = append(e.manualAccess, re)
	}

	for _, label := range cfg[BucketRenewalLabel] {
		re, err := regexp.Compile(`(?i)` + label + `\s*([^<\n]+)`)
		if err != nil {
			return nil, fmt.Errorf("invalid renewal label %q: %w", label, err)
		}
		e.renewalLabels = append(e.renewalLabels, re)
	}

	e.amountPatterns = amountPatterns()
	return e, nil
}

// MustNew is New for configs known to be valid.
func MustNew(cfg Config) *Engine {
	e, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

// Default returns an Engine over DefaultConfig.
func Default() *Engine {
	return MustNew(DefaultConfig())
}

const numberPattern = `(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)`

// amountPatterns returns the "currency then number" and "number then
// currency" patterns. Each has the currency in group 1 or 2 accordingly.
// Letter codes are taken only from ISOCodes, in any case.
func amountPatterns() []*regexp.Regexp {
	symbols := Symbols()
	sort.Slice(symbols, func(i, j int) bool {
		if len(symbols[i]) != len(symbols[j]) {
			return len(symbols[i]) > len(symbols[j])
		}
		return symbols[i] < symbols[j]
	})
	quoted := make([]string, len(symbols))
	for i, s := range symbols {
		quoted[i] = regexp.QuoteMeta(s)
	}
	symbolAlt := strings.Join(quoted, "|")
	codeAlt := `(?i:` + strings.Join(ISOCodes, "|") + `)`

	return []*regexp.Regexp{
		regexp.MustCompile(`(` + symbolAlt + `|\b` + codeAlt + `)\s?` + numberPattern),
		regexp.MustCompile(numberPattern + `\s?(` + symbolAlt + `|` + codeAlt + `\b)`),
	}
}

// keywordPattern matches any keyword as a whole word, allowing a plain
// inflection ("bill" matches "bills" and "billing" but not "billion").
// Edges that are not word characters get no boundary.
func keywordPattern(keywords []string) *regexp.Regexp {
	var alts []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		alt := regexp.QuoteMeta(kw)
		if isWordByte(kw[0]) {
			alt = `\b` + alt
		}
		if isWordByte(kw[len(kw)-1]) {
			alt += `(?:s|es|d|ed|ing)?\b`
		}
		alts = append(alts, alt)
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?:` + strings.Join(alts, "|") + `)`)
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
