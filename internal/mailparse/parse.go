package mailparse

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"github.com/microcosm-cc/bluemonday"

	"subtrack/internal/model"
)

var htmlTagPattern = regexp.MustCompile(`(?i)<\s*(html|body|div|p|br|table|td|span|a)\b`)

// htmlPolicy drops scripts, styles and event handlers but keeps the layout
// tags html2text needs.
var htmlPolicy = bluemonday.UGCPolicy()

// Parse builds the working content for one message. HTML bodies are
// flattened to text so the detectors scan what a reader would see.
func Parse(msg *model.RawMessage) model.ParsedEmailContent {
	if msg == nil {
		return model.ParsedEmailContent{}
	}

	content := model.ParsedEmailContent{
		Subject: strings.TrimSpace(msg.Header("Subject")),
		From:    strings.TrimSpace(msg.Header("From")),
	}

	if raw := msg.Header("Date"); raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			content.Date = t.UTC()
		}
	}

	content.BodyText = ToText(Decode(msg.Payload))
	return content
}

// ToText converts HTML to text and leaves plain text untouched.
func ToText(body string) string {
	if !htmlTagPattern.MatchString(body) {
		return strings.TrimSpace(body)
	}
	text, err := html2text.FromString(htmlPolicy.Sanitize(body), html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(text)
}

// SenderDisplayName returns the display name of a From header, or "".
func SenderDisplayName(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		if i := strings.Index(from, "<"); i > 0 {
			return strings.Trim(strings.TrimSpace(from[:i]), `"`)
		}
		return ""
	}
	return strings.TrimSpace(addr.Name)
}

// SenderDomain returns the domain part of a From header, or "".
func SenderDomain(from string) string {
	address := from
	if addr, err := mail.ParseAddress(from); err == nil {
		address = addr.Address
	} else if i, j := strings.Index(from, "<"), strings.Index(from, ">"); i >= 0 && j > i {
		address = from[i+1 : j]
	}
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(address[at+1:]))
}

// MessageDate is the parsed Date header, or zero when absent.
func MessageDate(c model.ParsedEmailContent) *time.Time {
	if c.Date.IsZero() {
		return nil
	}
	d := c.Date
	return &d
}
