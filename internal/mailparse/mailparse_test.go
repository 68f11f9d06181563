package mailparse

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"subtrack/internal/model"
)

func enc(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestDecode_Degenerate(t *testing.T) {
	tests := []struct {
		name    string
		payload *model.MessagePart
	}{
		{"nil", nil},
		{"empty", &model.MessagePart{}},
		{"empty body", &model.MessagePart{Body: &model.PartBody{}}},
		{"empty parts", &model.MessagePart{Parts: []*model.MessagePart{}}},
		{"nil part", &model.MessagePart{Parts: []*model.MessagePart{nil}}},
		{"garbage data", &model.MessagePart{Body: &model.PartBody{Data: "%%%not base64%%%"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, "", Decode(tt.payload))
			})
		})
	}
}

func TestDecode_InlineBody(t *testing.T) {
	p := &model.MessagePart{MimeType: "text/plain", Body: &model.PartBody{Data: enc("hello ~~ world??")}}
	assert.Equal(t, "hello ~~ world??", Decode(p))
}

func TestDecode_PrefersPlainOverHTML(t *testing.T) {
	p := &model.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*model.MessagePart{
			{MimeType: "text/html", Body: &model.PartBody{Data: enc("<p>html</p>")}},
			{MimeType: "text/plain", Body: &model.PartBody{Data: enc("plain")}},
		},
	}
	assert.Equal(t, "plain", Decode(p))
}

func TestDecode_FallsBackToHTML(t *testing.T) {
	p := &model.MessagePart{
		Parts: []*model.MessagePart{
			{MimeType: "image/png", Body: &model.PartBody{Data: enc("png")}},
			{MimeType: "text/html", Body: &model.PartBody{Data: enc("<b>hi</b>")}},
		},
	}
	assert.Equal(t, "<b>hi</b>", Decode(p))
}

func TestDecode_NestedPlainInsideMixed(t *testing.T) {
	p := &model.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*model.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*model.MessagePart{
					{MimeType: "text/html", Body: &model.PartBody{Data: enc("<i>x</i>")}},
					{MimeType: "text/plain", Body: &model.PartBody{Data: enc("nested plain")}},
				},
			},
		},
	}
	assert.Equal(t, "nested plain", Decode(p))
}

func TestDecode_DeeplyNestedUntyped(t *testing.T) {
	p := &model.MessagePart{
		Parts: []*model.MessagePart{
			{Parts: []*model.MessagePart{
				{Body: &model.PartBody{Data: enc("deep")}},
			}},
		},
	}
	assert.Equal(t, "deep", Decode(p))
}

func TestDecode_UnpaddedAndStdEncoding(t *testing.T) {
	raw := base64.RawURLEncoding.EncodeToString([]byte("no padding!"))
	assert.Equal(t, "no padding!", Decode(&model.MessagePart{Body: &model.PartBody{Data: raw}}))

	std := base64.StdEncoding.EncodeToString([]byte("a+b/c"))
	assert.Equal(t, "a+b/c", Decode(&model.MessagePart{Body: &model.PartBody{Data: std}}))
}

func TestParse(t *testing.T) {
	msg := &model.RawMessage{
		ID: "m1",
		Headers: []model.Header{
			{Name: "subject", Value: " Your Netflix Invoice "},
			{Name: "From", Value: `"Netflix" <info@account.netflix.com>`},
			{Name: "Date", Value: "Mon, 04 Mar 2024 10:00:00 +0000"},
		},
		Payload: &model.MessagePart{
			MimeType: "text/html",
			Body:     &model.PartBody{Data: enc("<html><body><p>Total: $15.99</p></body></html>")},
		},
	}

	c := Parse(msg)
	assert.Equal(t, "Your Netflix Invoice", c.Subject)
	assert.Equal(t, `"Netflix" <info@account.netflix.com>`, c.From)
	assert.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), c.Date)
	assert.Contains(t, c.BodyText, "Total: $15.99")
	assert.NotContains(t, c.BodyText, "<p>")
}

func TestToText_DropsActiveContent(t *testing.T) {
	body := `<html><head><style>p{color:red}</style></head><body>` +
		`<script>var leaked = 1</script><p onclick="x()">AT&amp;T total: $5.00</p></body></html>`

	text := ToText(body)
	assert.Contains(t, text, "AT&T total: $5.00")
	assert.NotContains(t, text, "leaked")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "onclick")
}

func TestToText_PlainUntouched(t *testing.T) {
	assert.Equal(t, "Q&A: it's <fine>", ToText("  Q&A: it's <fine>  "))
}

func TestSender(t *testing.T) {
	assert.Equal(t, "Netflix", SenderDisplayName(`"Netflix" <info@netflix.com>`))
	assert.Equal(t, "", SenderDisplayName("billing@spotify.com"))
	assert.Equal(t, "netflix.com", SenderDomain(`"Netflix" <info@Netflix.com>`))
	assert.Equal(t, "spotify.com", SenderDomain("billing@spotify.com"))
	assert.Equal(t, "", SenderDomain("nobody"))
}
