package heuristics

import (
	"strings"

	"subtrack/internal/model"
)

// symbolToCode is one symbol per code so that CanonicalSymbol inverts it.
var symbolToCode = map[string]string{
	"$":   "USD",
	"€":   "EUR",
	"£":   "GBP",
	"¥":   "JPY",
	"₹":   "INR",
	"A$":  "AUD",
	"C$":  "CAD",
	"NZ$": "NZD",
	"CN¥": "CNY",
}

var codeToSymbol = func() map[string]string {
	m := make(map[string]string, len(symbolToCode))
	for symbol, code := range symbolToCode {
		m[code] = symbol
	}
	return m
}()

// ISOCodes is the allow-list of codes recognised without a symbol.
var ISOCodes = []string{"USD", "EUR", "GBP", "JPY", "INR", "AUD", "CAD", "CHF", "CNY", "NZD"}

// Symbols returns every symbol in the table.
func Symbols() []string {
	out := make([]string, 0, len(symbolToCode))
	for s := range symbolToCode {
		out = append(out, s)
	}
	return out
}

// CanonicalSymbol returns the symbol for code, or code itself when it has none.
func CanonicalSymbol(code string) string {
	if s, ok := codeToSymbol[strings.ToUpper(code)]; ok {
		return s
	}
	return code
}

// NormalizeCurrency maps a symbol or code to a {symbol, code} pair.
// Unknown tokens pass through unchanged as both symbol and code.
func NormalizeCurrency(token string) model.Currency {
	token = strings.TrimSpace(token)
	if code, ok := symbolToCode[token]; ok {
		return model.Currency{Symbol: token, Code: code}
	}

	upper := strings.ToUpper(token)
	for _, code := range ISOCodes {
		if code == upper {
			return model.Currency{Symbol: CanonicalSymbol(code), Code: code}
		}
	}
	return model.Currency{Symbol: token, Code: token}
}
