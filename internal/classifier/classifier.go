package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"subtrack/internal/heuristics"
	"subtrack/internal/model"
	"subtrack/pkg/circuitbreaker"
	"subtrack/pkg/config"
	"subtrack/pkg/logger"
	"subtrack/pkg/metrics"
)

// Source tells where a Result came from.
type Source string

const (
	SourceToolCall Source = "tool_call"
	SourceFreeText Source = "free_text"
	SourceDefault  Source = "default"
)

// Result is either a parsed classification (OK) or the conservative default.
type Result struct {
	Classification model.ClassificationResult
	OK             bool
	Source         Source
}

// Drop reports whether the message must not be persisted at all.
func (r Result) Drop() bool {
	return r.Classification.Category == model.CategoryAdvertisement
}

func fallback() Result {
	return Result{Classification: model.DefaultClassification(), Source: SourceDefault}
}

// Input is the email snapshot sent to the model.
type Input struct {
	Subject   string            `json:"subject"`
	From      string            `json:"from"`
	Date      string            `json:"date,omitempty"`
	Body      string            `json:"body"`
	Extracted heuristics.Fields `json:"extracted"`
}

type Classifier struct {
	completer    Completer
	breaker      *circuitbreaker.CircuitBreaker
	model        string
	maxBodyChars int
	logger       *zap.Logger
}

func New(completer Completer, cfg config.OpenAIConfig, l *zap.Logger) *Classifier {
	cfg.Defaults()
	return &Classifier{
		completer:    completer,
		breaker:      circuitbreaker.New(circuitbreaker.DefaultConfig("openai"), l),
		model:        cfg.Model,
		maxBodyChars: cfg.MaxBodyChars,
		logger:       l,
	}
}

// Classify asks the model for a classification. It never fails: transport
// errors, open breakers and unparseable answers all yield the default.
func (c *Classifier) Classify(ctx context.Context, in Input) Result {
	start := time.Now()
	log := logger.WithTrace(ctx, c.logger)

	in.Body = truncate(in.Body, c.maxBodyChars)
	payload, err := json.Marshal(in)
	if err != nil {
		log.Warn("Failed to encode classifier input", zap.Error(err))
		return c.finish(fallback(), start)
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage("Analyze this email: " + string(payload)),
		},
		Tools:       []openai.ChatCompletionToolParam{categorizeTool},
		ToolChoice:  forceTool,
		Temperature: param.NewOpt(0.0),
	}

	var msg openai.ChatCompletionMessage
	err = c.breaker.Execute(func() error {
		var callErr error
		msg, callErr = c.completer.Complete(ctx, params)
		return callErr
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			log.Warn("Classifier circuit open, using default classification")
		} else {
			log.Warn("Classifier call failed, using default classification", zap.Error(err))
		}
		return c.finish(fallback(), start)
	}

	result, err := ParseMessage(msg)
	if err != nil {
		log.Warn("Classifier response unusable, using default classification", zap.Error(err))
	}
	return c.finish(result, start)
}

func (c *Classifier) finish(r Result, start time.Time) Result {
	metrics.RecordClassifierCallLatency(string(r.Source), time.Since(start))
	return r
}

// ParseMessage prefers the tool call arguments, then a JSON object in the
// message text. It returns the default with an error when neither parses.
func ParseMessage(msg openai.ChatCompletionMessage) (Result, error) {
	for _, call := range msg.ToolCalls {
		if call.Function.Name != toolName && call.Function.Name != "" {
			continue
		}
		if r, err := decode([]byte(call.Function.Arguments)); err == nil {
			return Result{Classification: r, OK: true, Source: SourceToolCall}, nil
		}
		if raw, ok := ExtractJSON(call.Function.Arguments); ok {
			if r, err := decode(raw); err == nil {
				return Result{Classification: r, OK: true, Source: SourceToolCall}, nil
			}
		}
	}

	if raw, ok := ExtractJSON(msg.Content); ok {
		if r, err := decode(raw); err == nil {
			return Result{Classification: r, OK: true, Source: SourceFreeText}, nil
		}
	}

	return fallback(), fmt.Errorf("no classification in response (tool_calls=%d)", len(msg.ToolCalls))
}

type wireResult struct {
	Category         *string  `json:"category"`
	IsSubscription   *bool    `json:"isSubscription"`
	Amount           *float64 `json:"amount"`
	BillingFrequency string   `json:"billingFrequency"`
	Confidence       *float64 `json:"confidence"`
	ServiceName      string   `json:"serviceName"`
}

// decode applies the response defaults: unknown category, not a
// subscription, confidence 0.5 and unknown frequency.
func decode(raw []byte) (model.ClassificationResult, error) {
	var w wireResult
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.ClassificationResult{}, err
	}

	r := model.DefaultClassification()
	if w.Category != nil && lo.Contains(model.Categories, *w.Category) {
		r.Category = *w.Category
	}
	if w.IsSubscription != nil {
		r.IsSubscription = *w.IsSubscription
	}
	if w.Confidence != nil && !math.IsNaN(*w.Confidence) {
		r.Confidence = math.Max(0, math.Min(1, *w.Confidence))
	}
	if w.Amount != nil && *w.Amount > 0 && !math.IsInf(*w.Amount, 0) {
		amount := *w.Amount
		r.Amount = &amount
	}
	if f := model.BillingFrequency(w.BillingFrequency); f.Valid() {
		r.BillingFrequency = f
	}
	r.ServiceName = w.ServiceName
	return r, nil
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
