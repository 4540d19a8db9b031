package polish

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
	"github.com/p-blackswan/project-analyzer/internal/retry"
)

// Outcome labels for the polish observer.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Retrying wraps a Provider with a per-attempt timeout and exponential
// backoff on retryable errors.
type Retrying struct {
	provider Provider
	timeout  time.Duration
	retry    retry.Config
	logger   zerolog.Logger

	// OnResult, if set, is called once per Polish call with the provider
	// name, outcome label and total duration.
	OnResult func(provider, outcome string, d time.Duration)
}

// New builds the provider selected by cfg.Model and wraps it with retries.
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Retrying, error) {
	logger = logger.With().Str("component", "polish").Logger()
	p, err := NewProvider(cfg, append([]Option{WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	rc := retry.DefaultConfig()
	if cfg.Retries > 0 {
		rc.MaxAttempts = cfg.Retries
	}
	return Wrap(p, cfg.Timeout, rc, logger), nil
}

// Wrap decorates an existing provider.
func Wrap(p Provider, timeout time.Duration, rc retry.Config, logger zerolog.Logger) *Retrying {
	r := &Retrying{provider: p, timeout: timeout, logger: logger}
	rc.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.logger.Warn().Err(err).
			Str("provider", p.Name()).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("polish attempt failed, retrying")
	}
	r.retry = rc
	return r
}

func (r *Retrying) Name() string { return r.provider.Name() }

// Polish calls the provider until it succeeds, fails with a non-retryable
// error, or runs out of attempts.
func (r *Retrying) Polish(ctx context.Context, instructions, draft string) (string, error) {
	start := time.Now()
	out, err := retry.Value(ctx, r.retry, func(ctx context.Context) (string, error) {
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		return r.provider.Polish(ctx, instructions, draft)
	})

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	if r.OnResult != nil {
		r.OnResult(r.provider.Name(), outcome, time.Since(start))
	}
	return out, err
}

// Noop never polishes. It stands in when polishing is switched off.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Polish(context.Context, string, string) (string, error) {
	return "", perrors.ErrPolishDisabled
}
