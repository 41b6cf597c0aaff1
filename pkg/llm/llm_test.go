package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litstack/litreview/internal/resilience"
)

func TestNew_ProviderSelection(t *testing.T) {
	c, err := New(Config{Provider: ProviderOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &openaiClient{}, c)

	c, err = New(Config{Provider: "Anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &anthropicClient{}, c)

	c, err = New(Config{Provider: ProviderOllama})
	require.NoError(t, err)
	assert.IsType(t, &ollamaClient{}, c)

	_, err = New(Config{Provider: "watson"})
	require.Error(t, err)
}

func TestNew_AnthropicRequiresKey(t *testing.T) {
	_, err := New(Config{Provider: ProviderAnthropic})
	require.Error(t, err)
}

func TestOpenAI_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "{\"x\":1}"}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAI("secret", WithBaseURL(srv.URL), WithModel("test-model"))
	out, err := c.Complete(context.Background(), "sys", "user text", Params{MaxTokens: 512})
	require.NoError(t, err)

	assert.Equal(t, `{"x":1}`, out.Text)
	assert.Equal(t, int64(120), out.Usage.InputTokens)
	assert.Equal(t, int64(30), out.Usage.OutputTokens)
	assert.Equal(t, int64(150), out.Usage.Total())

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, int64(512), *got.MaxTokens)
}

func TestOpenAI_RateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAI("k", WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), "", "u", Params{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestOpenAI_AuthFailureIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenAI("bad", WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), "", "u", Params{})
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [], "usage": {}}`))
	}))
	defer srv.Close()

	c := NewOpenAI("k", WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), "", "u", Params{})
	require.Error(t, err)
}

func TestOllama_Complete(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"message": {"role": "assistant", "content": "summary text"},
			"prompt_eval_count": 80,
			"eval_count": 25
		}`))
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "llama3.1")
	temp := 0.2
	out, err := c.Complete(context.Background(), "sys", "abstract", Params{MaxTokens: 256, Temperature: &temp})
	require.NoError(t, err)

	assert.Equal(t, "summary text", out.Text)
	assert.Equal(t, int64(80), out.Usage.InputTokens)
	assert.False(t, got.Stream)
	assert.Equal(t, "llama3.1", got.Model)
	assert.EqualValues(t, 256, got.Options["num_predict"])
}

func TestOllama_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "")
	_, err := c.Complete(context.Background(), "", "u", Params{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}
