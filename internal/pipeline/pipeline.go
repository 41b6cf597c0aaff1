// Package pipeline runs the enrichment stage: journal metrics merge plus
// LLM summarization for every record, under a worker pool and a shared rate
// budget. Failures degrade individual records to template defaults; they
// never drop records or abort the run.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/litstack/litreview/internal/metrics"
	"github.com/litstack/litreview/internal/model"
	"github.com/litstack/litreview/internal/progress"
	"github.com/litstack/litreview/internal/prompt"
	"github.com/litstack/litreview/internal/ratelimit"
	"github.com/litstack/litreview/internal/resilience"
	"github.com/litstack/litreview/pkg/llm"
)

// Config tunes one pipeline run.
type Config struct {
	// Workers caps concurrent jobs. Must be positive.
	Workers int

	// BatchSize is how many jobs are dispatched before waiting for the
	// batch to drain. Zero means 16.
	BatchSize int

	// SummariesEnabled gates the LLM stage; metrics merge always runs.
	SummariesEnabled bool

	// MaxTokens is the per-call output ceiling, also part of the
	// consumption estimate.
	MaxTokens int64

	// Temperature and TopP, when non-nil, are passed through to the model.
	Temperature *float64
	TopP        *float64

	// CallTimeout bounds a single LLM call. Zero means 2 minutes.
	CallTimeout time.Duration

	// Retry controls transient-failure handling per job.
	Retry resilience.RetryConfig
}

// Pipeline enriches a deduplicated record set.
type Pipeline struct {
	cfg      Config
	template *prompt.Template
	budget   *ratelimit.Budget
	metrics  *metrics.Service
	client   llm.Client
	tracker  *progress.Tracker
}

// New validates the collaborator set and returns a Pipeline. The template
// must already be loaded; budget, metrics and tracker are required; client
// may be nil only when summaries are disabled.
func New(cfg Config, template *prompt.Template, budget *ratelimit.Budget,
	svc *metrics.Service, client llm.Client, tracker *progress.Tracker) (*Pipeline, error) {

	if cfg.Workers <= 0 {
		return nil, eris.New("pipeline: worker count must be positive")
	}
	if budget == nil {
		return nil, eris.New("pipeline: rate budget is required")
	}
	if svc == nil {
		return nil, eris.New("pipeline: metrics service is required")
	}
	if tracker == nil {
		return nil, eris.New("pipeline: progress tracker is required")
	}
	if cfg.SummariesEnabled {
		if template == nil {
			return nil, eris.New("pipeline: summaries enabled but no template loaded")
		}
		if err := template.Validate(); err != nil {
			return nil, err
		}
		if client == nil {
			return nil, eris.New("pipeline: summaries enabled but no LLM client")
		}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}

	return &Pipeline{
		cfg:      cfg,
		template: template,
		budget:   budget,
		metrics:  svc,
		client:   client,
		tracker:  tracker,
	}, nil
}

// Run enriches records and returns them in input order. The output always
// has exactly len(records) entries; a failed job keeps its record with
// default enrichment values. Run only returns an error when the context is
// canceled before completion.
func (p *Pipeline) Run(ctx context.Context, records []model.BibliographicRecord) ([]model.BibliographicRecord, error) {
	if len(records) == 0 {
		return []model.BibliographicRecord{}, nil
	}

	jobs := make([]*model.EnrichmentJob, len(records))
	for i := range records {
		jobs[i] = &model.EnrichmentJob{
			Index:  i,
			Record: records[i],
			Status: model.JobPending,
		}
	}

	p.tracker.SetStage(progress.StageSummaries, "enriching records")
	p.tracker.SetTotal(len(jobs))

	// Jobs go out in fixed-size batches in input order; within a batch the
	// pool bounds concurrency.
	for start := 0; start < len(jobs); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(jobs))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Workers)
		for _, job := range jobs[start:end] {
			g.Go(func() error {
				p.runJob(gctx, job)
				p.tracker.JobDone(job.Status == model.JobFailed)
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return nil, eris.Wrap(err, "pipeline: run aborted")
		}
	}

	// Jobs were created in input order and never reordered, so indexing
	// by job position restores the original sequence regardless of
	// completion order.
	out := make([]model.BibliographicRecord, len(jobs))
	for _, job := range jobs {
		out[job.Index] = job.Record
	}
	return out, nil
}

// runJob performs the metrics merge and, when enabled, the summarization
// for one record. All failure paths land the job in JobFailed with default
// enrichment so the record survives in the output.
func (p *Pipeline) runJob(ctx context.Context, job *model.EnrichmentJob) {
	job.Status = model.JobInFlight

	for col, v := range p.metrics.Lookup(ctx, job.Record.Journal) {
		job.Record.SetEnrichment(col, v)
	}

	if !p.cfg.SummariesEnabled {
		job.Status = model.JobSucceeded
		return
	}
	if job.Record.Abstract == "" {
		p.applyDefaults(job)
		job.Status = model.JobSucceeded
		return
	}

	if err := p.summarize(ctx, job); err != nil {
		job.Err = err
		job.Status = model.JobFailed
		p.applyDefaults(job)
		zap.L().Warn("enrichment job failed, using defaults",
			zap.Int("index", job.Index),
			zap.Int("attempts", job.Attempts),
			zap.String("title", job.Record.Title),
			zap.Error(err),
		)
		return
	}
	job.Status = model.JobSucceeded
}

func (p *Pipeline) summarize(ctx context.Context, job *model.EnrichmentJob) error {
	system, user := p.template.Render(&job.Record)
	estimate := estimateUnits(system, user, p.cfg.MaxTokens)

	retryCfg := p.cfg.Retry
	userHook := retryCfg.OnRetry
	retryCfg.OnRetry = func(attempt int, err error) {
		job.Status = model.JobRetrying
		if userHook != nil {
			userHook(attempt, err)
		}
	}

	// Each attempt is one real external call, so the request token and the
	// unit estimate are debited inside the retry closure; a failed attempt
	// returns its units before the backoff.
	completion, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*llm.Completion, error) {
		if err := p.budget.Acquire(ctx, estimate); err != nil {
			if eris.Is(err, ratelimit.ErrUnsatisfiable) {
				return nil, eris.Wrap(err, "pipeline: job can never fit the rate budget")
			}
			return nil, err
		}

		job.Attempts++
		job.Status = model.JobInFlight
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
		completion, err := p.client.Complete(callCtx, system, user, llm.Params{
			MaxTokens:   p.cfg.MaxTokens,
			Temperature: p.cfg.Temperature,
			TopP:        p.cfg.TopP,
		})
		if err != nil {
			p.budget.ReleaseUnused(estimate)
			return nil, err
		}
		return completion, nil
	})
	if err != nil {
		return err
	}

	if used := completion.Usage.Total(); used > 0 && used < estimate {
		p.budget.ReleaseUnused(estimate - used)
	}

	job.Usage.Add(model.TokenUsage{
		InputTokens:  completion.Usage.InputTokens,
		OutputTokens: completion.Usage.OutputTokens,
	})

	for field, v := range p.template.ParseResponse(completion.Text) {
		job.Record.SetEnrichment(field, v)
	}
	return nil
}

// applyDefaults fills every declared template field that is still unset.
func (p *Pipeline) applyDefaults(job *model.EnrichmentJob) {
	if p.template == nil {
		return
	}
	for field, v := range p.template.Defaults() {
		if _, ok := job.Record.Enrichment[field]; !ok {
			job.Record.SetEnrichment(field, v)
		}
	}
}

// estimateUnits approximates a call's consumption before it happens: a
// four-characters-per-token heuristic on the prompt plus the full output
// ceiling. Over-estimates are returned to the budget after the call.
func estimateUnits(system, user string, maxTokens int64) int64 {
	return int64(len(system)+len(user))/4 + maxTokens
}
