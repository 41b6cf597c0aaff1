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
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3.1"
)

// ollamaClient implements Client against a local Ollama server's
// /api/chat endpoint in non-streaming mode.
type ollamaClient struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewOllama returns a Client for an Ollama server. Both arguments may be
// empty to use the local defaults.
func NewOllama(baseURL, model string) Client {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &ollamaClient{
		baseURL: baseURL,
		model:   model,
		// Local models can be slow to first token.
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         chatMessage `json:"message"`
	PromptEvalCount int64       `json:"prompt_eval_count"`
	EvalCount       int64       `json:"eval_count"`
}

func (c *ollamaClient) Complete(ctx context.Context, system, user string, p Params) (*Completion, error) {
	req := ollamaRequest{
		Model:  c.model,
		Stream: false,
	}
	if p.Model != "" {
		req.Model = p.Model
	}
	if p.MaxTokens > 0 || p.Temperature != nil || p.TopP != nil {
		req.Options = map[string]any{}
		if p.MaxTokens > 0 {
			req.Options["num_predict"] = p.MaxTokens
		}
		if p.Temperature != nil {
			req.Options["temperature"] = *p.Temperature
		}
		if p.TopP != nil {
			req.Options["top_p"] = *p.TopP
		}
	}
	if system != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: user})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "llm: marshal ollama request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "llm: create ollama request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "llm: send ollama request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "llm: read ollama response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("llm: ollama returned status %d: %s", resp.StatusCode, string(respBody))
		return nil, resilience.ClassifyHTTPStatus(err, resp.StatusCode)
	}

	var result ollamaResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "llm: unmarshal ollama response")
	}

	return &Completion{
		Text: result.Message.Content,
		Usage: Usage{
			InputTokens:  result.PromptEvalCount,
			OutputTokens: result.EvalCount,
		},
	}, nil
}
