package config

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/litstack/litreview/internal/model"
)

// Validate checks that the configuration is usable for the given mode.
// Mode "run" covers the full ingest-enrich-report path; "serve" covers the
// progress server, which also processes on demand.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run":
		problems = append(problems, c.validateRun()...)
	case "serve":
		problems = append(problems, c.validateRun()...)
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateRun() []string {
	var problems []string

	for _, src := range c.Sources {
		if _, err := model.ParseSourceType(src.Type); err != nil {
			problems = append(problems, "unknown source type "+src.Type)
		}
		if src.Location == "" {
			problems = append(problems, "source location is required")
		}
	}

	switch strings.ToLower(c.LLM.Type) {
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" && !c.Processing.DisableSummary {
			problems = append(problems, "llm.anthropic_api_key is required")
		}
	case "openai", "siliconflow":
		if c.LLM.OpenAIAPIKey == "" && !c.Processing.DisableSummary {
			problems = append(problems, "llm.openai_api_key is required")
		}
	case "ollama", "":
	default:
		problems = append(problems, "unknown llm.type "+c.LLM.Type)
	}

	// A missing metrics.api_key is not fatal: the metrics stage degrades to
	// empty columns at runtime, matching lookup failures.

	if c.Processing.MaxWorkers < 0 || c.Processing.MaxWorkers > 64 {
		problems = append(problems, "processing.max_workers must be between 0 and 64")
	}

	switch c.Store.Driver {
	case "sqlite", "":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for postgres")
		}
	default:
		problems = append(problems, "unknown store.driver "+c.Store.Driver)
	}

	return problems
}
