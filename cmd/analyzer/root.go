package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/project-analyzer/internal/config"
	"github.com/p-blackswan/project-analyzer/internal/metrics"
	"github.com/p-blackswan/project-analyzer/internal/pipeline"
	"github.com/p-blackswan/project-analyzer/internal/polish"
	"github.com/p-blackswan/project-analyzer/internal/synthesis"
	"github.com/p-blackswan/project-analyzer/internal/triage"
)

// app carries what every subcommand needs after PersistentPreRunE.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "analyzer",
		Short: "Analyse zipped source projects",
		Long: `analyzer unpacks an untrusted ZIP archive of a source project and reports:
  - a directory tree
  - a kind and one-line summary for every analysable file
  - a short project overview, optionally polished by a language model

Configuration comes from environment variables (see LOG_LEVEL, ZIP_SIZE_LIMIT_MB,
POLISH_MODEL and friends).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(newAnalyzeCmd(a))
	root.AddCommand(newServeCmd(a))
	return root
}

func (a *app) init(logOut io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	a.logger = newLogger(cfg, logOut)
	return nil
}

// newLogger writes JSON with unix timestamps and caller info, or console
// output in development.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(out).With().Timestamp().Caller().Logger()
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	log.Logger = logger
	return logger
}

// buildPipeline wires the orchestrator from configuration. model overrides
// POLISH_MODEL when set. m may be nil.
func (a *app) buildPipeline(m *metrics.Metrics, model string) (*pipeline.Orchestrator, error) {
	opts := []pipeline.Option{pipeline.WithMetrics(m)}
	if a.cfg.TriageRulesPath != "" {
		rules, err := triage.LoadRules(a.cfg.TriageRulesPath)
		if err != nil {
			return nil, err
		}
		table, err := rules.Compile()
		if err != nil {
			return nil, fmt.Errorf("triage rules %s: %w", a.cfg.TriageRulesPath, err)
		}
		opts = append(opts, pipeline.WithRules(table))
	}
	return pipeline.New(pipeline.ConfigFrom(a.cfg), a.polisher(m, model), a.logger, opts...)
}

// polisher returns nil when polishing is off or the provider cannot be built;
// summaries then stay as drafts.
func (a *app) polisher(m *metrics.Metrics, model string) synthesis.Polisher {
	if model != "" {
		a.cfg.PolishModel = model
	}
	if !a.cfg.PolishEnabled() {
		a.logger.Info().Msg("summary polish disabled")
		return nil
	}

	p, err := polish.New(polish.Config{
		Model:           a.cfg.PolishModel,
		OpenAIAPIKey:    a.cfg.OpenAIAPIKey,
		OpenAIBaseURL:   a.cfg.OpenAIBaseURL,
		AnthropicAPIKey: a.cfg.AnthropicAPIKey,
		AnthropicURL:    a.cfg.AnthropicBaseURL,
		OllamaURL:       a.cfg.OllamaURL,
		Timeout:         a.cfg.PolishTimeout,
		Retries:         a.cfg.PolishRetries,
	}, a.logger,
		polish.WithTemperature(a.cfg.PolishTemperature),
		polish.WithMaxTokens(a.cfg.PolishMaxTokens),
	)
	if err != nil {
		a.logger.Warn().Err(err).Str("model", a.cfg.PolishModel).Msg("summary polish unavailable, using drafts")
		return nil
	}
	p.OnResult = func(provider, outcome string, d time.Duration) {
		m.RecordPolish(provider, outcome, d.Seconds())
	}
	a.logger.Info().Str("provider", p.Name()).Str("model", a.cfg.PolishModel).Msg("summary polish enabled")
	return p
}
