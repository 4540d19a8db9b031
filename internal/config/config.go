package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const bytesPerMB = 1_048_576

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Archive limits
	ZipSizeLimitMB     int    `envconfig:"ZIP_SIZE_LIMIT_MB" default:"300"`
	MaxMemberSizeMB    int    `envconfig:"MAX_MEMBER_SIZE_MB" default:"150"`
	WorkRoot           string `envconfig:"WORK_ROOT"` // empty = os.TempDir()
	DeleteTempAfterRun bool   `envconfig:"DELETE_TEMP_AFTER_RUN" default:"true"`

	// Triage and content analysis
	BinarySampleBytes     int     `envconfig:"BINARY_SAMPLE_BYTES" default:"1024"`
	BinaryThreshold       float64 `envconfig:"BINARY_THRESHOLD" default:"0.30"`
	ContentReadMaxBytes   int     `envconfig:"CONTENT_READ_MAX_BYTES" default:"65536"`
	SummarySentenceWindow int     `envconfig:"SUMMARY_SENTENCE_WINDOW" default:"160"`
	SummaryMaxChars       int     `envconfig:"SUMMARY_MAX_CHARS" default:"500"`
	DraftMaxChars         int     `envconfig:"DRAFT_MAX_CHARS" default:"300"`
	MaxFilesToAnalyze     int     `envconfig:"MAX_FILES_TO_ANALYZE" default:"500"`
	AnalysisWorkers       int     `envconfig:"ANALYSIS_WORKERS" default:"3"`
	TriageRulesPath       string  `envconfig:"TRIAGE_RULES_PATH"` // optional YAML rule table

	// Polish collaborator. Prefix selects the provider: openai/, anthropic/, ollama/, compat/.
	PolishModel       string        `envconfig:"POLISH_MODEL" default:"openai/gpt-4o-mini"`
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL"`
	AnthropicAPIKey   string        `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL  string        `envconfig:"ANTHROPIC_BASE_URL"`
	OllamaURL         string        `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	PolishTimeout     time.Duration `envconfig:"POLISH_TIMEOUT" default:"60s"`
	PolishRetries     int           `envconfig:"POLISH_RETRIES" default:"2"`
	PolishTemperature float64       `envconfig:"POLISH_TEMPERATURE" default:"0.3"`
	PolishMaxTokens   int           `envconfig:"POLISH_MAX_TOKENS" default:"512"`

	// HTTP front end
	HTTPListenAddr string  `envconfig:"HTTP_LISTEN_ADDR" default:":8000"`
	MaxUploadMB    int     `envconfig:"MAX_UPLOAD_MB" default:"300"`
	CORSOrigins    string  `envconfig:"CORS_ORIGINS"`
	UploadDir      string  `envconfig:"UPLOAD_DIR"` // empty = os.TempDir()
	DiskMaxUsedPct float64 `envconfig:"DISK_MAX_USED_PCT" default:"90"`

	// Job engine
	JobWorkers     int           `envconfig:"JOB_WORKERS" default:"2"`
	JobQueueSize   int           `envconfig:"JOB_QUEUE_SIZE" default:"100"`
	JobHistorySize int           `envconfig:"JOB_HISTORY_SIZE" default:"200"`
	JobTimeout     time.Duration `envconfig:"JOB_TIMEOUT" default:"300s"`

	// Sweeper for orphaned work dirs and uploads
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m"`
	SweepStaleAfter time.Duration `envconfig:"SWEEP_STALE_AFTER" default:"1h"`
}

// ZipSizeLimitBytes returns the compressed archive limit in bytes.
func (c *Config) ZipSizeLimitBytes() int64 {
	return int64(c.ZipSizeLimitMB) * bytesPerMB
}

// MaxMemberSizeBytes returns the per-member uncompressed limit in bytes.
func (c *Config) MaxMemberSizeBytes() int64 {
	return int64(c.MaxMemberSizeMB) * bytesPerMB
}

// MaxUploadBytes returns the HTTP body limit in bytes.
func (c *Config) MaxUploadBytes() int {
	return c.MaxUploadMB * bytesPerMB
}

// PolishEnabled returns false when the polish step is switched off.
func (c *Config) PolishEnabled() bool {
	m := strings.TrimSpace(strings.ToLower(c.PolishModel))
	return m != "" && m != "none" && m != "off"
}

// IsDevelopment returns true for the development environment.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate checks value ranges that envconfig cannot express.
func (c *Config) Validate() error {
	switch {
	case c.ZipSizeLimitMB < 1:
		return fmt.Errorf("ZIP_SIZE_LIMIT_MB must be >= 1, got %d", c.ZipSizeLimitMB)
	case c.MaxMemberSizeMB < 1:
		return fmt.Errorf("MAX_MEMBER_SIZE_MB must be >= 1, got %d", c.MaxMemberSizeMB)
	case c.BinarySampleBytes < 1:
		return fmt.Errorf("BINARY_SAMPLE_BYTES must be >= 1, got %d", c.BinarySampleBytes)
	case c.BinaryThreshold <= 0 || c.BinaryThreshold >= 1:
		return fmt.Errorf("BINARY_THRESHOLD must be in (0,1), got %v", c.BinaryThreshold)
	case c.AnalysisWorkers < 1:
		return fmt.Errorf("ANALYSIS_WORKERS must be >= 1, got %d", c.AnalysisWorkers)
	case c.PolishTemperature < 0 || c.PolishTemperature > 2:
		return fmt.Errorf("POLISH_TEMPERATURE must be in [0,2], got %v", c.PolishTemperature)
	case c.PolishMaxTokens < 1:
		return fmt.Errorf("POLISH_MAX_TOKENS must be >= 1, got %d", c.PolishMaxTokens)
	case c.MaxFilesToAnalyze < 1:
		return fmt.Errorf("MAX_FILES_TO_ANALYZE must be >= 1, got %d", c.MaxFilesToAnalyze)
	case c.SweepStaleAfter > 0 && c.JobTimeout > 0 && c.SweepStaleAfter <= c.JobTimeout:
		return fmt.Errorf("SWEEP_STALE_AFTER (%s) must exceed JOB_TIMEOUT (%s)", c.SweepStaleAfter, c.JobTimeout)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		if prefix == "" {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
