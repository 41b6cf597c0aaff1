package llm

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/litstack/litreview/internal/resilience"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

// anthropicClient implements Client on the official anthropic-sdk-go.
type anthropicClient struct {
	client sdk.Client
	model  string
}

// NewAnthropic returns a Client backed by the Anthropic Messages API.
// model may be empty to use the default.
func NewAnthropic(apiKey, model string) Client {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicClient{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *anthropicClient) Complete(ctx context.Context, system, user string, p Params) (*Completion, error) {
	model := p.Model
	if model == "" {
		model = c.model
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if p.Temperature != nil {
		params.Temperature = sdk.Float(*p.Temperature)
	}
	if p.TopP != nil {
		params.TopP = sdk.Float(*p.TopP)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropic(eris.Wrap(err, "llm: anthropic complete"), err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &Completion{
		Text: sb.String(),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

// classifyAnthropic maps an SDK error onto the transient/permanent taxonomy
// using the embedded HTTP status when one is available.
func classifyAnthropic(wrapped, cause error) error {
	var apiErr *sdk.Error
	if errors.As(cause, &apiErr) {
		return resilience.ClassifyHTTPStatus(wrapped, apiErr.StatusCode)
	}
	return wrapped
}
