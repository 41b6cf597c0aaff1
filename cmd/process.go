package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/litstack/litreview/internal/config"
	"github.com/litstack/litreview/internal/dedupe"
	"github.com/litstack/litreview/internal/fetcher"
	"github.com/litstack/litreview/internal/metrics"
	"github.com/litstack/litreview/internal/model"
	"github.com/litstack/litreview/internal/parser"
	"github.com/litstack/litreview/internal/pipeline"
	"github.com/litstack/litreview/internal/progress"
	"github.com/litstack/litreview/internal/prompt"
	"github.com/litstack/litreview/internal/ratelimit"
	"github.com/litstack/litreview/internal/report"
	"github.com/litstack/litreview/internal/resilience"
	"github.com/litstack/litreview/internal/store"
	"github.com/litstack/litreview/pkg/easyscholar"
	"github.com/litstack/litreview/pkg/llm"
)

// initStore opens the configured run-history store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// parseSourceArgs turns "type:location" arguments into source configs. The
// location keeps everything after the first colon, so URLs pass through.
func parseSourceArgs(args []string) ([]config.SourceConfig, error) {
	sources := make([]config.SourceConfig, 0, len(args))
	for _, arg := range args {
		typ, loc, ok := strings.Cut(arg, ":")
		if !ok || loc == "" {
			return nil, eris.Errorf("source %q must have the form type:location", arg)
		}
		if _, err := model.ParseSourceType(typ); err != nil {
			return nil, err
		}
		sources = append(sources, config.SourceConfig{Type: typ, Location: loc})
	}
	return sources, nil
}

// processor runs the full ingest, dedupe, enrich, report sequence.
type processor struct {
	cfg     *config.Config
	st      store.Store
	tracker *progress.Tracker

	// tpl is the template picked for the current run, kept so the report
	// writer knows which AI columns to emit.
	tpl *prompt.Template
}

func newProcessor(cfg *config.Config, st store.Store, tracker *progress.Tracker) *processor {
	return &processor{cfg: cfg, st: st, tracker: tracker}
}

func (p *processor) retryConfig(service string) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if p.cfg.Processing.MaxRetries > 0 {
		rc.MaxAttempts = p.cfg.Processing.MaxRetries
	}
	rc.OnRetry = resilience.RetryLogger(service, "call")
	return rc
}

// Process executes one run over the given sources and records its outcome.
func (p *processor) Process(ctx context.Context, sources []config.SourceConfig) (*store.Run, error) {
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = src.Type + ":" + src.Location
	}

	run, err := p.st.CreateRun(ctx, names)
	if err != nil {
		return nil, err
	}
	p.tracker.Start(0, "run started")

	result, err := p.process(ctx, sources)
	if err != nil {
		p.tracker.Fail(err.Error())
		if failErr := p.st.FailRun(ctx, run.ID, err.Error()); failErr != nil {
			zap.L().Error("record run failure", zap.String("run_id", run.ID), zap.Error(failErr))
		}
		return nil, err
	}

	if err := p.st.FinishRun(ctx, run.ID, *result); err != nil {
		return nil, err
	}
	p.tracker.Finish("run complete")

	return p.st.GetRun(ctx, run.ID)
}

func (p *processor) process(ctx context.Context, sources []config.SourceConfig) (*store.RunResult, error) {
	p.tracker.SetStage(progress.StageParsing, "fetching and parsing exports")
	records, err := p.ingest(ctx, sources)
	if err != nil {
		return nil, err
	}
	parsed := len(records)

	p.tracker.SetStage(progress.StageDedup, "deduplicating records")
	records = dedupe.Dedupe(records)
	zap.L().Info("deduplicated records",
		zap.Int("parsed", parsed),
		zap.Int("unique", len(records)),
	)

	enriched, err := p.enrich(ctx, records)
	if err != nil {
		return nil, err
	}
	failed := p.tracker.Snapshot().FailedRecords

	p.tracker.SetStage(progress.StageReport, "writing report")
	outputPath := p.cfg.Output.Path
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "create output dir %s", dir)
		}
	}
	writer := report.NewWriter(report.Options{
		SeparateSheets: p.cfg.Output.SeparateSheets,
		MetricColumns:  p.metricColumns(),
		AIFields:       p.aiFields(),
	})
	if err := writer.Write(enriched, outputPath); err != nil {
		return nil, err
	}

	return &store.RunResult{
		ParsedRecords:  parsed,
		DedupedRecords: len(enriched),
		FailedRecords:  failed,
		OutputPath:     outputPath,
	}, nil
}

// ingest fetches every source export and parses it into records. Remote
// locations are downloaded to a per-run temp dir first.
func (p *processor) ingest(ctx context.Context, sources []config.SourceConfig) ([]model.BibliographicRecord, error) {
	if len(sources) == 0 {
		return nil, eris.New("no sources configured")
	}

	destDir, err := os.MkdirTemp("", "litreview-")
	if err != nil {
		return nil, eris.Wrap(err, "create temp dir")
	}
	defer os.RemoveAll(destDir)

	f := fetcher.New(fetcher.WithRetry(p.retryConfig("fetcher")))

	var records []model.BibliographicRecord
	for _, src := range sources {
		source, err := model.ParseSourceType(src.Type)
		if err != nil {
			return nil, err
		}
		pr, err := parser.ForSource(source)
		if err != nil {
			return nil, err
		}

		path, err := f.Fetch(ctx, src.Location, destDir)
		if err != nil {
			return nil, err
		}

		file, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open export %s", path)
		}
		parsed, err := pr.Parse(file)
		file.Close()
		if err != nil {
			return nil, err
		}

		zap.L().Info("parsed export",
			zap.String("source", src.Type),
			zap.String("location", src.Location),
			zap.Int("records", len(parsed)),
		)
		records = append(records, parsed...)
	}
	return records, nil
}

// enrich runs the journal-metrics and summarization pipeline.
func (p *processor) enrich(ctx context.Context, records []model.BibliographicRecord) ([]model.BibliographicRecord, error) {
	svc := metrics.NewService(easyscholar.NewClient(p.cfg.Metrics.APIKey), p.st, p.metricsConfig())

	summaries := !p.cfg.Processing.DisableSummary

	var tpl *prompt.Template
	var client llm.Client
	if summaries {
		templates, err := prompt.LoadDir(p.cfg.Prompt.TemplatesDir)
		if err != nil {
			return nil, err
		}
		tpl, err = prompt.Select(templates, p.cfg.Prompt.DefaultType)
		if err != nil {
			return nil, err
		}
		p.tpl = tpl

		client, err = llm.New(p.llmConfig())
		if err != nil {
			return nil, err
		}
	}

	budget := ratelimit.NewBudget(p.cfg.LLM.RequestsPerMinute, p.cfg.LLM.TokensPerMinute)

	workers := p.cfg.Processing.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	pipe, err := pipeline.New(pipeline.Config{
		Workers:          workers,
		BatchSize:        p.cfg.Processing.BatchSize,
		SummariesEnabled: summaries,
		MaxTokens:        p.cfg.LLM.ModelParameters.MaxTokens,
		Temperature:      p.cfg.LLM.ModelParameters.Temperature,
		TopP:             p.cfg.LLM.ModelParameters.TopP,
		CallTimeout:      time.Duration(p.cfg.Processing.CallTimeoutSecs) * time.Second,
		Retry:            p.retryConfig("llm"),
	}, tpl, budget, svc, client, p.tracker)
	if err != nil {
		return nil, err
	}

	return pipe.Run(ctx, records)
}

func (p *processor) llmConfig() llm.Config {
	switch strings.ToLower(p.cfg.LLM.Type) {
	case "anthropic":
		return llm.Config{
			Provider: llm.ProviderAnthropic,
			APIKey:   p.cfg.LLM.AnthropicAPIKey,
			Model:    p.cfg.LLM.AnthropicModel,
		}
	case "ollama":
		return llm.Config{
			Provider: llm.ProviderOllama,
			BaseURL:  p.cfg.LLM.OllamaAPIURL,
			Model:    p.cfg.LLM.OllamaModel,
		}
	default:
		return llm.Config{
			Provider: llm.ProviderOpenAI,
			APIKey:   p.cfg.LLM.OpenAIAPIKey,
			BaseURL:  p.cfg.LLM.OpenAIBaseURL,
			Model:    p.cfg.LLM.OpenAIModel,
		}
	}
}

func (p *processor) metricsConfig() metrics.Config {
	codes := p.cfg.Metrics.Codes
	if p.cfg.Metrics.APIKey == "" && len(codes) > 0 {
		// Without a key every lookup would fail; skip the stage entirely.
		zap.L().Warn("metrics.api_key not set, skipping journal metrics")
		codes = nil
	}
	return metrics.Config{
		Codes:         codes,
		ColumnMapping: p.cfg.Metrics.ColumnMapping,
		CacheMaxAge:   time.Duration(p.cfg.Metrics.CacheMaxAgeDays) * 24 * time.Hour,
	}
}

func (p *processor) metricColumns() []string {
	mcfg := p.metricsConfig()
	cols := make([]string, 0, len(mcfg.Codes))
	for _, code := range mcfg.Codes {
		cols = append(cols, mcfg.Column(code))
	}
	return cols
}

func (p *processor) aiFields() []string {
	if p.tpl == nil {
		return nil
	}
	return p.tpl.Fields
}
