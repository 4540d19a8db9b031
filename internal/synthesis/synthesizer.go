package synthesis

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
	"github.com/p-blackswan/project-analyzer/internal/event"
)

// Instructions is the system prompt sent with every polish request.
const Instructions = "You are a professional copy-editor. " +
	"Rewrite the summary so it is clear, engaging and no longer than 150 words."

// Polisher rewrites a draft. Any error means the draft is used as is.
type Polisher interface {
	Polish(ctx context.Context, instructions, draft string) (string, error)
}

// Synthesizer builds the draft and runs the optional polish step.
type Synthesizer struct {
	polisher Polisher
	maxChars int
	logger   zerolog.Logger
}

// NewSynthesizer creates a Synthesizer. A nil polisher disables polishing.
func NewSynthesizer(polisher Polisher, maxChars int, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		polisher: polisher,
		maxChars: maxChars,
		logger:   logger.With().Str("component", "summary_synthesizer").Logger(),
	}
}

// Synthesize returns the draft and the final summary. It never fails: on
// any polish error the final text is the draft.
func (s *Synthesizer) Synthesize(ctx context.Context, results []event.FileAnalysisResult) (event.ProjectDraft, event.SummaryPolished) {
	draft := Draft(results, s.maxChars)
	s.logger.Debug().Int("files", len(results)).Int("chars", len([]rune(draft))).Msg("draft composed")

	text, err := s.polish(ctx, draft)
	if err != nil {
		s.logger.Warn().Err(&perrors.SynthesisError{Err: err}).Msg("using unpolished draft")
		return event.ProjectDraft{Draft: draft}, event.SummaryPolished{Text: draft}
	}
	return event.ProjectDraft{Draft: draft}, event.SummaryPolished{Text: text, Polished: true}
}

func (s *Synthesizer) polish(ctx context.Context, draft string) (string, error) {
	if s.polisher == nil {
		return "", perrors.ErrPolishDisabled
	}
	out, err := s.polisher.Polish(ctx, Instructions, draft)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", perrors.ErrEmptyCompletion
	}
	return out, nil
}
