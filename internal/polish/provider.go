// Package polish implements the text-polish collaborator on top of hosted and
// local language-model APIs. A model id of the form "<provider>/<model>"
// selects the backend.
package polish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 512
	defaultOllamaURL   = "http://localhost:11434"
)

// Provider is one polish backend.
type Provider interface {
	Name() string
	Polish(ctx context.Context, instructions, draft string) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	// Model is "openai/<m>", "anthropic/<m>", "ollama/<m>" or "compat/<m>".
	Model           string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AnthropicURL    string
	OllamaURL       string
	Timeout         time.Duration // per attempt
	Retries         int           // max attempts for retryable failures
}

type options struct {
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      zerolog.Logger
}

// Option configures a provider.
type Option func(*options)

// WithTemperature sets the sampling temperature sent with every request.
// Negative values are ignored.
func WithTemperature(t float64) Option {
	return func(o *options) {
		if t >= 0 {
			o.temperature = t
		}
	}
}

// WithMaxTokens caps the completion length. Values below 1 are ignored.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithHTTPClient replaces the default client, which times out after two
// minutes.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger providers derive their debug logger from.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		logger:      zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// SplitModel splits "provider/model" into its parts. The model part may
// itself contain slashes.
func SplitModel(id string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(strings.TrimSpace(id), "/")
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("%w: model id %q must look like provider/model", perrors.ErrInvalidInput, id)
	}
	return strings.ToLower(provider), model, nil
}

// NewProvider builds the backend named by cfg.Model.
func NewProvider(cfg Config, opts ...Option) (Provider, error) {
	provider, model, err := SplitModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	switch provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", perrors.ErrAuthFailure)
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, model, opts...), nil
	case "compat":
		if cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("%w: OPENAI_BASE_URL is required for compat models", perrors.ErrInvalidInput)
		}
		key := cfg.OpenAIAPIKey
		if key == "" {
			// Self-hosted gateways accept any key.
			key = "unused"
		}
		return NewOpenAI(key, cfg.OpenAIBaseURL, model, opts...), nil
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", perrors.ErrAuthFailure)
		}
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicURL, model, opts...), nil
	case "ollama":
		return NewOllama(cfg.OllamaURL, model, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown polish provider %q", perrors.ErrInvalidInput, provider)
	}
}

// classify maps a transport failure to the taxonomy used by retry.
func classify(service string, status int, msg string, err error) error {
	apiErr := &perrors.APIError{Service: service, StatusCode: status, Message: msg, Err: err}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		apiErr.Err = errors.Join(perrors.ErrAuthFailure, err)
	case status == http.StatusTooManyRequests:
		apiErr.Err = errors.Join(perrors.ErrRateLimit, err)
	}
	return apiErr
}

// contextErr converts deadline expiry to ErrTimeout so it is retried.
func contextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", perrors.ErrTimeout, err)
	}
	return err
}
