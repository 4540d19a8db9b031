package polish

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
)

// Anthropic polishes through the Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
	opts   options
	logger zerolog.Logger
}

// NewAnthropic constructs an Anthropic provider. An empty baseURL targets
// the public API.
func NewAnthropic(apiKey, baseURL, model string, opts ...Option) *Anthropic {
	o := buildOptions(opts)
	reqOpts := []aoption.RequestOption{
		aoption.WithAPIKey(strings.TrimSpace(apiKey)),
		aoption.WithHTTPClient(o.httpClient),
		aoption.WithMaxRetries(0),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, aoption.WithBaseURL(baseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(reqOpts...),
		model:  model,
		opts:   o,
		logger: o.logger.With().Str("provider", "anthropic").Str("model", model).Logger(),
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

// Polish sends the instructions as the system prompt and the draft as the
// only user turn.
func (p *Anthropic) Polish(ctx context.Context, instructions, draft string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(p.opts.maxTokens),
		System:      []anthropic.TextBlockParam{{Text: instructions}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(draft))},
		Temperature: anthropic.Float(p.opts.temperature),
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", classify("anthropic", apiErr.StatusCode, apiErr.Error(), err)
		}
		return "", contextErr(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}

	p.logger.Debug().
		Int64("in_tokens", msg.Usage.InputTokens).
		Int64("out_tokens", msg.Usage.OutputTokens).
		Str("stop_reason", string(msg.StopReason)).
		Msg("anthropic polish complete")

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", perrors.ErrEmptyCompletion
	}
	return out, nil
}
