package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litstack/litreview/internal/metrics"
	"github.com/litstack/litreview/internal/model"
	"github.com/litstack/litreview/internal/progress"
	"github.com/litstack/litreview/internal/prompt"
	"github.com/litstack/litreview/internal/ratelimit"
	"github.com/litstack/litreview/internal/resilience"
	"github.com/litstack/litreview/pkg/easyscholar"
	"github.com/litstack/litreview/pkg/llm"
)

type fakeLLM struct {
	mu       sync.Mutex
	calls    int
	inFlight atomic.Int64
	maxSeen  atomic.Int64

	// respond builds the reply from the user prompt; nil echoes a summary.
	respond func(user string) (*llm.Completion, error)
	delay   time.Duration
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string, p llm.Params) (*llm.Completion, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(time.Duration(rand.Int64N(int64(f.delay))))
	}

	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(user)
	}
	return &llm.Completion{
		Text:  fmt.Sprintf(`{"ai_summary": "summary of %s"}`, user),
		Usage: llm.Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type noRankClient struct{}

func (noRankClient) GetPublicationRank(ctx context.Context, journal string) (*easyscholar.PublicationRank, error) {
	return nil, nil
}

func testTemplate() *prompt.Template {
	return &prompt.Template{
		Type:         "medical",
		System:       "Summarize.",
		UserTemplate: "Abstract: {abstract}",
		Fields:       []string{"ai_summary", "research_type"},
		DefaultValues: map[string]string{
			"ai_summary":    "",
			"research_type": "unknown",
		},
	}
}

func testMetrics() *metrics.Service {
	return metrics.NewService(noRankClient{}, nil, metrics.Config{})
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func newTestPipeline(t *testing.T, cfg Config, client llm.Client, budget *ratelimit.Budget) *Pipeline {
	t.Helper()
	if budget == nil {
		budget = ratelimit.NewBudget(0, 0)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fastRetry()
	}
	p, err := New(cfg, testTemplate(), budget, testMetrics(), client, progress.NewTracker())
	require.NoError(t, err)
	return p
}

func someRecords(n int) []model.BibliographicRecord {
	records := make([]model.BibliographicRecord, n)
	for i := range records {
		records[i] = model.BibliographicRecord{
			Title:    fmt.Sprintf("Paper %03d", i),
			Abstract: fmt.Sprintf("abstract-%03d", i),
			Journal:  "J Test",
		}
	}
	return records
}

func TestNew_Validation(t *testing.T) {
	budget := ratelimit.NewBudget(0, 0)
	tracker := progress.NewTracker()

	_, err := New(Config{Workers: 0}, testTemplate(), budget, testMetrics(), &fakeLLM{}, tracker)
	assert.Error(t, err)

	_, err = New(Config{Workers: 1, SummariesEnabled: true}, nil, budget, testMetrics(), &fakeLLM{}, tracker)
	assert.Error(t, err)

	_, err = New(Config{Workers: 1, SummariesEnabled: true}, testTemplate(), budget, testMetrics(), nil, tracker)
	assert.Error(t, err)

	_, err = New(Config{Workers: 1}, nil, nil, testMetrics(), nil, tracker)
	assert.Error(t, err)

	// Summaries disabled: template and client are optional.
	_, err = New(Config{Workers: 1}, nil, budget, testMetrics(), nil, tracker)
	assert.NoError(t, err)
}

func TestRun_OrderAndCountPreserved(t *testing.T) {
	client := &fakeLLM{delay: 3 * time.Millisecond}
	p := newTestPipeline(t, Config{Workers: 8, SummariesEnabled: true, MaxTokens: 64}, client, nil)

	in := someRecords(40)
	out, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, out, len(in))
	for i, rec := range out {
		assert.Equal(t, in[i].Title, rec.Title, "record %d out of order", i)
		assert.Contains(t, rec.Enrichment["ai_summary"], in[i].Abstract)
	}
}

func TestRun_EmptyInput(t *testing.T) {
	p := newTestPipeline(t, Config{Workers: 2, SummariesEnabled: true, MaxTokens: 64}, &fakeLLM{}, nil)
	out, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRun_FailedJobDegradesToDefaults(t *testing.T) {
	client := &fakeLLM{respond: func(user string) (*llm.Completion, error) {
		if user == "Abstract: abstract-002" {
			return nil, resilience.NewPermanentError(eris.New("model rejected input"), 400)
		}
		return &llm.Completion{Text: `{"ai_summary": "ok", "research_type": "RCT"}`}, nil
	}}
	p := newTestPipeline(t, Config{Workers: 4, SummariesEnabled: true, MaxTokens: 64}, client, nil)

	in := someRecords(5)
	out, err := p.Run(context.Background(), in)
	require.NoError(t, err, "one bad record must not abort the run")
	require.Len(t, out, 5)

	assert.Equal(t, "", out[2].Enrichment["ai_summary"])
	assert.Equal(t, "unknown", out[2].Enrichment["research_type"])
	assert.Equal(t, "RCT", out[1].Enrichment["research_type"])
}

func TestRun_PermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int64
	client := &fakeLLM{respond: func(string) (*llm.Completion, error) {
		calls.Add(1)
		return nil, resilience.NewPermanentError(eris.New("invalid key"), 401)
	}}
	p := newTestPipeline(t, Config{Workers: 1, SummariesEnabled: true, MaxTokens: 64}, client, nil)

	_, err := p.Run(context.Background(), someRecords(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRun_TransientFailureRetried(t *testing.T) {
	var calls atomic.Int64
	client := &fakeLLM{respond: func(string) (*llm.Completion, error) {
		if calls.Add(1) < 3 {
			return nil, resilience.NewTransientError(eris.New("overloaded"), 529)
		}
		return &llm.Completion{Text: `{"ai_summary": "recovered"}`}, nil
	}}
	p := newTestPipeline(t, Config{Workers: 1, SummariesEnabled: true, MaxTokens: 64}, client, nil)

	out, err := p.Run(context.Background(), someRecords(1))
	require.NoError(t, err)
	assert.Equal(t, "recovered", out[0].Enrichment["ai_summary"])
	assert.Equal(t, int64(3), calls.Load())
}

func TestRun_MissingAbstractSkipsLLM(t *testing.T) {
	client := &fakeLLM{}
	p := newTestPipeline(t, Config{Workers: 2, SummariesEnabled: true, MaxTokens: 64}, client, nil)

	out, err := p.Run(context.Background(), []model.BibliographicRecord{
		{Title: "No abstract"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, client.callCount())
	assert.Equal(t, "unknown", out[0].Enrichment["research_type"])
}

func TestRun_SummariesDisabled(t *testing.T) {
	budget := ratelimit.NewBudget(0, 0)
	p, err := New(Config{Workers: 2}, nil, budget, testMetrics(), nil, progress.NewTracker())
	require.NoError(t, err)

	out, err := p.Run(context.Background(), someRecords(3))
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestRun_UnsatisfiableBudgetFailsFast(t *testing.T) {
	client := &fakeLLM{}
	budget := ratelimit.NewBudget(0, 10)
	// Estimate is prompt/4 + 64 tokens, far beyond 10 units.
	p := newTestPipeline(t, Config{Workers: 2, SummariesEnabled: true, MaxTokens: 64}, client, budget)

	out, err := p.Run(context.Background(), someRecords(3))
	require.NoError(t, err)
	assert.Equal(t, 0, client.callCount(), "jobs that can never fit the budget must not call the model")
	for _, rec := range out {
		assert.Equal(t, "unknown", rec.Enrichment["research_type"])
	}
}

func TestRun_WorkerLimitRespected(t *testing.T) {
	client := &fakeLLM{delay: 5 * time.Millisecond}
	p := newTestPipeline(t, Config{Workers: 3, SummariesEnabled: true, MaxTokens: 64}, client, nil)

	_, err := p.Run(context.Background(), someRecords(30))
	require.NoError(t, err)
	assert.LessOrEqual(t, client.maxSeen.Load(), int64(3))
}

func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeLLM{respond: func(string) (*llm.Completion, error) {
		cancel()
		return nil, ctx.Err()
	}}
	p := newTestPipeline(t, Config{Workers: 1, SummariesEnabled: true, MaxTokens: 64}, client, nil)

	_, err := p.Run(ctx, someRecords(5))
	require.Error(t, err)
}

func TestRun_BudgetRefundOnFailure(t *testing.T) {
	client := &fakeLLM{respond: func(string) (*llm.Completion, error) {
		return nil, resilience.NewPermanentError(eris.New("nope"), 403)
	}}
	budget := ratelimit.NewBudget(0, 200)
	p := newTestPipeline(t, Config{Workers: 1, SummariesEnabled: true, MaxTokens: 64}, client, budget)

	_, err := p.Run(context.Background(), someRecords(1))
	require.NoError(t, err)

	// The failed call's estimate was refunded in full.
	_, units := budget.Remaining()
	assert.Equal(t, int64(200), units)
}

func TestRun_RetriesDebitRequestQuota(t *testing.T) {
	var calls atomic.Int64
	client := &fakeLLM{respond: func(string) (*llm.Completion, error) {
		if calls.Add(1) < 3 {
			return nil, resilience.NewTransientError(eris.New("overloaded"), 529)
		}
		return &llm.Completion{Text: `{"ai_summary": "recovered"}`}, nil
	}}
	budget := ratelimit.NewBudget(10, 0)
	p := newTestPipeline(t, Config{Workers: 1, SummariesEnabled: true, MaxTokens: 64}, client, budget)

	_, err := p.Run(context.Background(), someRecords(1))
	require.NoError(t, err)

	// Three attempts were made, so three request tokens are gone.
	requests, _ := budget.Remaining()
	assert.Equal(t, int64(7), requests, "every retry attempt must consume a request token")
}

func TestEstimateUnits(t *testing.T) {
	assert.Equal(t, int64(74), estimateUnits("aaaa", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 64))
}
