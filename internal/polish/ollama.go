package polish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
)

// Ollama polishes through a local Ollama server's native chat API.
type Ollama struct {
	client *api.Client
	model  string
	opts   options
	logger zerolog.Logger
}

// NewOllama constructs an Ollama provider. An empty baseURL uses the
// default local endpoint.
func NewOllama(baseURL, model string, opts ...Option) (*Ollama, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOllamaURL
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid OLLAMA_URL %q: %v", perrors.ErrInvalidInput, baseURL, err)
	}
	o := buildOptions(opts)
	return &Ollama{
		client: api.NewClient(u, o.httpClient),
		model:  model,
		opts:   o,
		logger: o.logger.With().Str("provider", "ollama").Str("model", model).Logger(),
	}, nil
}

func (p *Ollama) Name() string { return "ollama" }

// Polish runs a single non-streaming chat turn.
func (p *Ollama) Polish(ctx context.Context, instructions, draft string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model: p.model,
		Messages: []api.Message{
			{Role: "system", Content: instructions},
			{Role: "user", Content: draft},
		},
		Stream: &stream,
		Options: map[string]any{
			"temperature": p.opts.temperature,
			"num_predict": p.opts.maxTokens,
		},
	}

	var b strings.Builder
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		if resp.Done {
			p.logger.Debug().
				Int("in_tokens", resp.PromptEvalCount).
				Int("out_tokens", resp.EvalCount).
				Msg("ollama polish complete")
		}
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return "", classify("ollama", statusErr.StatusCode, statusErr.ErrorMessage, err)
		}
		return "", contextErr(err)
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", perrors.ErrEmptyCompletion
	}
	return out, nil
}
