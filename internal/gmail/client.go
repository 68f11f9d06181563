package gmail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"subtrack/internal/model"
	"subtrack/pkg/circuitbreaker"
	"subtrack/pkg/metrics"
)

const userID = "me"

// Client is a Gmail client bound to one mailbox.
type Client struct {
	svc     *gmailapi.Service
	cb      *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

// isBreakerSuccess keeps client-side API errors from tripping the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400, 401, 403, 404:
			return true
		}
	}
	return false
}

// ListMessages returns one page of message ids matching query.
func (c *Client) ListMessages(ctx context.Context, query string, pageSize int64, pageToken string) ([]string, string, error) {
	var resp *gmailapi.ListMessagesResponse
	err := c.execute(ctx, "list", func(ctx context.Context) error {
		call := c.svc.Users.Messages.List(userID).Q(query).MaxResults(pageSize)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var err error
		resp, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, "", err
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, resp.NextPageToken, nil
}

// GetMessage fetches the full message with its MIME tree.
func (c *Client) GetMessage(ctx context.Context, id string) (*model.RawMessage, error) {
	var msg *gmailapi.Message
	err := c.execute(ctx, "get", func(ctx context.Context) error {
		var err error
		msg, err = c.svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return ToRawMessage(msg), nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gmail %s: %w", operation, err)
	}

	start := time.Now()
	err := c.cb.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return fn(callCtx)
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordMailAPILatency(operation, status, time.Since(start))

	if err != nil {
		return fmt.Errorf("gmail %s: %w", operation, err)
	}
	return nil
}

// ToRawMessage converts the Gmail API representation into the pipeline's
// message type.
func ToRawMessage(m *gmailapi.Message) *model.RawMessage {
	if m == nil {
		return &model.RawMessage{}
	}
	raw := &model.RawMessage{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Payload:  toPart(m.Payload),
	}
	if raw.Payload != nil {
		raw.Headers = raw.Payload.Headers
	}
	return raw
}

func toPart(p *gmailapi.MessagePart) *model.MessagePart {
	if p == nil {
		return nil
	}
	part := &model.MessagePart{MimeType: p.MimeType}
	for _, h := range p.Headers {
		if h == nil {
			continue
		}
		part.Headers = append(part.Headers, model.Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil {
		part.Body = &model.PartBody{Data: p.Body.Data, Size: p.Body.Size}
	}
	for _, child := range p.Parts {
		if c := toPart(child); c != nil {
			part.Parts = append(part.Parts, c)
		}
	}
	return part
}
