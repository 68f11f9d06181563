package mailparse

import (
	"encoding/base64"
	"strings"

	"subtrack/internal/model"
)

const (
	mimePlain = "text/plain"
	mimeHTML  = "text/html"
)

// Decode returns the body of payload, preferring inline data, then the first
// text/plain part, then the first text/html part, searching nested parts.
// It never fails; degenerate or undecodable payloads yield "".
func Decode(payload *model.MessagePart) string {
	if payload == nil {
		return ""
	}

	if s, ok := inline(payload); ok {
		return s
	}
	if s, ok := firstOfType(payload.Parts, mimePlain); ok {
		return s
	}
	if s, ok := firstOfType(payload.Parts, mimeHTML); ok {
		return s
	}

	// untyped containers, e.g. {parts:[{parts:[{body:{data}}]}]}
	for _, part := range payload.Parts {
		if s := Decode(part); s != "" {
			return s
		}
	}
	return ""
}

func inline(p *model.MessagePart) (string, bool) {
	if p == nil || p.Body == nil || p.Body.Data == "" {
		return "", false
	}
	return decodeData(p.Body.Data)
}

func firstOfType(parts []*model.MessagePart, mimeType string) (string, bool) {
	for _, part := range parts {
		if part == nil {
			continue
		}
		if strings.HasPrefix(strings.ToLower(part.MimeType), mimeType) {
			if s, ok := inline(part); ok {
				return s, true
			}
		}
		if len(part.Parts) > 0 {
			if s, ok := firstOfType(part.Parts, mimeType); ok {
				return s, true
			}
		}
	}
	return "", false
}

// decodeData accepts base64url (the provider's encoding) with or without
// padding, then standard base64.
func decodeData(data string) (string, bool) {
	trimmed := strings.TrimRight(strings.TrimSpace(data), "=")
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(trimmed); err == nil {
			return strings.ToValidUTF8(string(b), ""), true
		}
	}
	return "", false
}
