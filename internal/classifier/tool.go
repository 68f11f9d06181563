package classifier

import (
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"subtrack/internal/model"
)

const toolName = "categorize_email"

const systemPrompt = `You analyse emails to detect subscriptions and recurring payments.

Financial documents come first. Invoices, receipts, billing statements, payment confirmations,
renewal notices and purchase confirmations must be analysed for subscription details and are
never advertisements.

Use the "Advertisement" category only when the email is purely promotional or marketing content
with no payment information, a job alert, a social network notification, or a newsletter without
billing details.

For financial emails report:
- serviceName: the company that billed the user
- amount: the charged amount as a number
- billingFrequency: the recurrence stated in the email
- isSubscription: true only for a recurring paid service
- confidence: your certainty between 0 and 1
- category by service type:
  * Software & SaaS: software services and digital tools
  * Media & Content: streaming and content subscriptions
  * E-Commerce: online shopping and retail
  * IT Infrastructure: hosting, domains and cloud
  * Unknown: service type is unclear`

var categorizeTool = openai.ChatCompletionToolParam{
	Type: "function",
	Function: openai.FunctionDefinitionParam{
		Name:        toolName,
		Description: param.NewOpt("Record the classification of one email."),
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{
					"type": "string",
					"enum": model.Categories,
				},
				"isSubscription": map[string]any{"type": "boolean"},
				"amount":         map[string]any{"type": "number"},
				"billingFrequency": map[string]any{
					"type": "string",
					"enum": []string{
						string(model.FrequencyMonthly),
						string(model.FrequencyYearly),
						string(model.FrequencyQuarterly),
						string(model.FrequencyOneTime),
						string(model.FrequencyUnknown),
					},
				},
				"confidence":  map[string]any{"type": "number"},
				"serviceName": map[string]any{"type": "string"},
			},
			"required": []string{"category", "isSubscription", "confidence"},
		},
	},
}

var forceTool = openai.ChatCompletionToolChoiceOptionUnionParam{
	OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
		Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: toolName},
	},
}
