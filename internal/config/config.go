package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Sources    []SourceConfig   `yaml:"sources" mapstructure:"sources"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Processing ProcessingConfig `yaml:"processing" mapstructure:"processing"`
	Prompt     PromptConfig     `yaml:"prompt" mapstructure:"prompt"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// SourceConfig names one bibliographic export to ingest. Location may be a
// local path or an http(s)/ftp URL.
type SourceConfig struct {
	Type     string `yaml:"type" mapstructure:"type"`
	Location string `yaml:"location" mapstructure:"location"`
}

// LLMConfig selects the summarization backend and its model parameters.
type LLMConfig struct {
	Type string `yaml:"type" mapstructure:"type"`

	AnthropicAPIKey string `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model" mapstructure:"anthropic_model"`

	OpenAIAPIKey  string `yaml:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model" mapstructure:"openai_model"`

	OllamaAPIURL string `yaml:"ollama_api_url" mapstructure:"ollama_api_url"`
	OllamaModel  string `yaml:"ollama_model" mapstructure:"ollama_model"`

	ModelParameters ModelParameters `yaml:"model_parameters" mapstructure:"model_parameters"`

	// RequestsPerMinute and TokensPerMinute bound the shared rate budget.
	// Zero or negative leaves that dimension unlimited.
	RequestsPerMinute int64 `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	TokensPerMinute   int64 `yaml:"tokens_per_minute" mapstructure:"tokens_per_minute"`
}

// ModelParameters holds sampling settings passed through to the backend.
type ModelParameters struct {
	MaxTokens   int64    `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature *float64 `yaml:"temperature" mapstructure:"temperature"`
	TopP        *float64 `yaml:"top_p" mapstructure:"top_p"`
}

// MetricsConfig configures easyscholar journal metric lookup.
type MetricsConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Codes lists which publication ranks to extract, e.g. "sci", "sciif",
	// "jci", or "custom_<dataset>".
	Codes []string `yaml:"codes" mapstructure:"codes"`

	// ColumnMapping renames codes to report column headers.
	ColumnMapping map[string]string `yaml:"column_mapping" mapstructure:"column_mapping"`

	CacheMaxAgeDays int `yaml:"cache_max_age_days" mapstructure:"cache_max_age_days"`
}

// ProcessingConfig tunes the enrichment pipeline.
type ProcessingConfig struct {
	BatchSize       int  `yaml:"batch_size" mapstructure:"batch_size"`
	MaxWorkers      int  `yaml:"max_workers" mapstructure:"max_workers"`
	DisableSummary  bool `yaml:"disable_summary" mapstructure:"disable_summary"`
	MaxRetries      int  `yaml:"max_retries" mapstructure:"max_retries"`
	CallTimeoutSecs int  `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
}

// PromptConfig locates summarization prompt templates.
type PromptConfig struct {
	TemplatesDir string `yaml:"templates_dir" mapstructure:"templates_dir"`
	DefaultType  string `yaml:"default_type" mapstructure:"default_type"`
}

// OutputConfig configures the XLSX report.
type OutputConfig struct {
	Path           string `yaml:"path" mapstructure:"path"`
	SeparateSheets bool   `yaml:"separate_sheets" mapstructure:"separate_sheets"`
}

// StoreConfig configures the run history and cache backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the progress server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LITREVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("llm.type", "openai")
	v.SetDefault("llm.anthropic_model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.openai_base_url", "https://api.siliconflow.cn/v1")
	v.SetDefault("llm.openai_model", "deepseek-ai/DeepSeek-V3")
	v.SetDefault("llm.ollama_api_url", "http://localhost:11434")
	v.SetDefault("llm.ollama_model", "llama3")
	v.SetDefault("llm.model_parameters.max_tokens", 1024)
	v.SetDefault("llm.model_parameters.temperature", 0.7)
	v.SetDefault("llm.model_parameters.top_p", 0.9)
	v.SetDefault("metrics.codes", []string{"sci", "sciif"})
	v.SetDefault("metrics.cache_max_age_days", 30)
	v.SetDefault("processing.batch_size", 16)
	v.SetDefault("processing.max_workers", 4)
	v.SetDefault("processing.max_retries", 3)
	v.SetDefault("processing.call_timeout_secs", 120)
	v.SetDefault("prompt.templates_dir", "config/prompts")
	v.SetDefault("prompt.default_type", "medical")
	v.SetDefault("output.path", "output/results.xlsx")
	v.SetDefault("output.separate_sheets", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "litreview.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
