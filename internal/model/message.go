package model

import (
	"strings"
	"time"
)

// Header is a single name/value pair of a raw message.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartBody holds base64url-encoded content.
type PartBody struct {
	Data string `json:"data,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// MessagePart is one node of a (possibly nested) multipart payload.
type MessagePart struct {
	MimeType string         `json:"mimeType,omitempty"`
	Headers  []Header       `json:"headers,omitempty"`
	Body     *PartBody      `json:"body,omitempty"`
	Parts    []*MessagePart `json:"parts,omitempty"`
}

// RawMessage is a provider message as fetched by the mail client.
type RawMessage struct {
	ID       string       `json:"id"`
	ThreadID string       `json:"threadId"`
	Headers  []Header     `json:"headers"`
	Payload  *MessagePart `json:"payload"`
}

// Header returns the first header value matching name case-insensitively.
func (m *RawMessage) Header(name string) string {
	if m == nil {
		return ""
	}
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			if strings.EqualFold(h.Name, name) {
				return h.Value
			}
		}
	}
	return ""
}

// ParsedEmailContent is the working unit passed to every detection stage.
type ParsedEmailContent struct {
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	Date     time.Time `json:"date"`
	BodyText string    `json:"body"`
}
