package polish

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
)

// OpenAI polishes through the Chat Completions API. With a base URL it also
// serves OpenAI-compatible endpoints such as Ollama's /v1 or hosted gateways.
type OpenAI struct {
	client openai.Client
	model  string
	opts   options
	logger zerolog.Logger
}

// NewOpenAI constructs an OpenAI provider.
func NewOpenAI(apiKey, baseURL, model string, opts ...Option) *OpenAI {
	o := buildOptions(opts)
	reqOpts := []ooption.RequestOption{
		ooption.WithAPIKey(strings.TrimSpace(apiKey)),
		ooption.WithHTTPClient(o.httpClient),
		ooption.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		reqOpts = append(reqOpts, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  model,
		opts:   o,
		logger: o.logger.With().Str("provider", "openai").Str("model", model).Logger(),
	}
}

func (p *OpenAI) Name() string { return "openai" }

// Polish sends the instructions as the system message and the draft as the
// user message.
func (p *OpenAI) Polish(ctx context.Context, instructions, draft string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instructions),
			openai.UserMessage(draft),
		},
		Temperature: openai.Float(p.opts.temperature),
		MaxTokens:   openai.Int(int64(p.opts.maxTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", classify("openai", apiErr.StatusCode, apiErr.Message, err)
		}
		return "", contextErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", perrors.ErrEmptyCompletion
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	p.logger.Debug().
		Int64("in_tokens", resp.Usage.PromptTokens).
		Int64("out_tokens", resp.Usage.CompletionTokens).
		Msg("openai polish complete")
	if text == "" {
		return "", perrors.ErrEmptyCompletion
	}
	return text, nil
}
