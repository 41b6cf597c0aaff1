package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/litstack/litreview/internal/resilience"
)

const (
	defaultOpenAIBaseURL = "https://api.siliconflow.cn/v1"
	defaultOpenAIModel   = "deepseek-ai/DeepSeek-V3"
)

// OpenAIOption configures the OpenAI-compatible client.
type OpenAIOption func(*openaiClient)

// WithBaseURL points the client at a different OpenAI-compatible endpoint,
// such as a vLLM server.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openaiClient) {
		c.baseURL = url
	}
}

// WithModel overrides the default model.
func WithModel(model string) OpenAIOption {
	return func(c *openaiClient) {
		c.model = model
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openaiClient) {
		c.http = hc
	}
}

type openaiClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewOpenAI returns a Client for any OpenAI-compatible chat completions
// endpoint. apiKey may be empty for unauthenticated local servers.
func NewOpenAI(apiKey string, opts ...OpenAIOption) Client {
	c := &openaiClient{
		apiKey:  apiKey,
		baseURL: defaultOpenAIBaseURL,
		model:   defaultOpenAIModel,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int64        `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *openaiClient) Complete(ctx context.Context, system, user string, p Params) (*Completion, error) {
	req := chatRequest{
		Model:       c.model,
		Temperature: p.Temperature,
		TopP:        p.TopP,
	}
	if p.Model != "" {
		req.Model = p.Model
	}
	if p.MaxTokens > 0 {
		req.MaxTokens = &p.MaxTokens
	}
	if system != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: user})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "llm: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "llm: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "llm: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "llm: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("llm: unexpected status %d: %s", resp.StatusCode, string(respBody))
		return nil, resilience.ClassifyHTTPStatus(err, resp.StatusCode)
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "llm: unmarshal response")
	}
	if len(result.Choices) == 0 {
		return nil, eris.New("llm: response contained no choices")
	}

	return &Completion{
		Text: result.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
	}, nil
}
