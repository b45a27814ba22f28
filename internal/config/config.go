package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Triage     TriageConfig     `yaml:"triage" mapstructure:"triage"`
	Mail       MailConfig       `yaml:"mail" mapstructure:"mail"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Similarity SimilarityConfig `yaml:"similarity" mapstructure:"similarity"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Templates  TemplatesConfig  `yaml:"templates" mapstructure:"templates"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// TriageConfig configures polling, batching and routing.
type TriageConfig struct {
	Accounts        []string          `yaml:"accounts" mapstructure:"accounts"`
	BatchSize       int               `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelay      time.Duration     `yaml:"batch_delay" mapstructure:"batch_delay"`
	PollInterval    time.Duration     `yaml:"poll_interval" mapstructure:"poll_interval"`
	FallbackMailbox string            `yaml:"fallback_mailbox" mapstructure:"fallback_mailbox"`
	Routes          map[string]string `yaml:"routes" mapstructure:"routes"`
}

// MailConfig holds Microsoft Graph credentials.
type MailConfig struct {
	TenantID         string        `yaml:"tenant_id" mapstructure:"tenant_id"`
	ClientID         string        `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret     string        `yaml:"client_secret" mapstructure:"client_secret"`
	BaseURL          string        `yaml:"base_url" mapstructure:"base_url"`
	AuthorityURL     string        `yaml:"authority_url" mapstructure:"authority_url"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MarkReadAttempts int           `yaml:"mark_read_attempts" mapstructure:"mark_read_attempts"`
}

// RegistryConfig holds policy registry (ESB) settings.
type RegistryConfig struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	ClientID     string        `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string        `yaml:"client_secret" mapstructure:"client_secret"`
	Scope        string        `yaml:"scope" mapstructure:"scope"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LLMConfig selects the extraction provider and its call limits.
type LLMConfig struct {
	Provider      string        `yaml:"provider" mapstructure:"provider"`
	MaxTokens     int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature   float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimit     float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst         int           `yaml:"burst" mapstructure:"burst"`
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	FastModel      string `yaml:"fast_model" mapstructure:"fast_model"`
	AccurateModel  string `yaml:"accurate_model" mapstructure:"accurate_model"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
}

// SimilarityConfig configures vehicle description matching.
type SimilarityConfig struct {
	Provider   string  `yaml:"provider" mapstructure:"provider"`
	Model      string  `yaml:"model" mapstructure:"model"`
	CacheDir   string  `yaml:"cache_dir" mapstructure:"cache_dir"`
	TEIURL     string  `yaml:"tei_url" mapstructure:"tei_url"`
	Threshold  float64 `yaml:"threshold" mapstructure:"threshold"`
	Precedence string  `yaml:"precedence" mapstructure:"precedence"`
}

// OCRConfig configures attachment text extraction.
type OCRConfig struct {
	Provider        string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath   string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralAPIKey   string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel    string `yaml:"mistral_model" mapstructure:"mistral_model"`
	MistralEndpoint string `yaml:"mistral_endpoint" mapstructure:"mistral_endpoint"`
}

// TemplatesConfig points at an optional YAML file of vendor templates.
type TemplatesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AuditConfig configures the audit store. Driver is sqlite, postgres or none.
type AuditConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// BreakerConfig configures the circuit breakers around external services.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold" mapstructure:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// secrets have no default but must still be readable from the environment.
var secrets = []string{
	"mail.tenant_id",
	"mail.client_id",
	"mail.client_secret",
	"registry.base_url",
	"registry.client_id",
	"registry.client_secret",
	"registry.scope",
	"anthropic.key",
	"gemini.key",
	"ocr.mistral_api_key",
	"triage.fallback_mailbox",
	"templates.path",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secrets {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("triage.accounts", []string{})
	v.SetDefault("triage.batch_size", 3)
	v.SetDefault("triage.batch_delay", "1s")
	v.SetDefault("triage.poll_interval", "30s")
	v.SetDefault("mail.base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("mail.authority_url", "https://login.microsoftonline.com")
	v.SetDefault("mail.timeout", "60s")
	v.SetDefault("mail.mark_read_attempts", 3)
	v.SetDefault("registry.timeout", "30s")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.rate_limit", 5.0)
	v.SetDefault("llm.burst", 5)
	v.SetDefault("llm.retry_attempts", 3)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("gemini.fast_model", "gemini-2.5-flash")
	v.SetDefault("gemini.accurate_model", "gemini-2.5-pro")
	v.SetDefault("gemini.embedding_model", "gemini-embedding-001")
	v.SetDefault("similarity.provider", "fastembed")
	v.SetDefault("similarity.threshold", 0.80)
	v.SetDefault("similarity.precedence", "first")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("audit.driver", "sqlite")
	v.SetDefault("audit.dsn", "triage.db")
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown", "30s")
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

// Validate checks the settings a command needs. Mode "triage" covers the
// poll loop and single pass; "serve" only needs the ops server; "audit"
// needs the audit store.
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	switch mode {
	case "triage":
		require(len(c.Triage.Accounts) > 0, "triage.accounts is required")
		require(c.Triage.BatchSize > 0, "triage.batch_size must be positive")
		require(c.Triage.PollInterval > 0, "triage.poll_interval must be positive")
		require(c.Triage.FallbackMailbox != "", "triage.fallback_mailbox is required")
		require(c.Mail.TenantID != "", "mail.tenant_id is required")
		require(c.Mail.ClientID != "", "mail.client_id is required")
		require(c.Mail.ClientSecret != "", "mail.client_secret is required")
		require(c.Registry.BaseURL != "", "registry.base_url is required")
		require(c.Registry.ClientID != "", "registry.client_id is required")
		require(c.Registry.ClientSecret != "", "registry.client_secret is required")

		switch c.LLM.Provider {
		case "anthropic":
			require(c.Anthropic.Key != "", "anthropic.key is required")
		case "gemini":
			require(c.Gemini.Key != "", "gemini.key is required")
		default:
			errs = append(errs, "llm.provider must be anthropic or gemini")
		}

		switch c.Similarity.Provider {
		case "fastembed":
		case "tei":
			require(c.Similarity.TEIURL != "", "similarity.tei_url is required")
		case "gemini":
			require(c.Gemini.Key != "", "gemini.key is required for gemini similarity")
		default:
			errs = append(errs, "similarity.provider must be fastembed, tei or gemini")
		}
		require(c.Similarity.Threshold > 0 && c.Similarity.Threshold <= 1, "similarity.threshold must be in (0, 1]")
		require(c.Similarity.Precedence == "first" || c.Similarity.Precedence == "last", "similarity.precedence must be first or last")
		errs = append(errs, c.auditErrors()...)
	case "serve":
		require(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be between 1 and 65535")
		errs = append(errs, c.auditErrors()...)
	case "audit":
		errs = append(errs, c.auditErrors()...)
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) auditErrors() []string {
	switch c.Audit.Driver {
	case "none":
		return nil
	case "sqlite", "postgres":
		if c.Audit.DSN == "" {
			return []string{"audit.dsn is required"}
		}
		return nil
	default:
		return []string{"audit.driver must be sqlite, postgres or none"}
	}
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
