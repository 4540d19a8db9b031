// Package pipeline runs one archive through every analysis stage and collects
// the artifacts.
//
// Stages run on their own goroutines and talk over channels:
//
//	validate -> extract -> discover -+-> triage -> analysis pool -+-> barrier -> synthesis
//	                                 +-> tree --------------------+
//
// Validation and extraction run synchronously and abort the run on failure.
// The working directory is removed only after every stage goroutine has
// returned.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/p-blackswan/project-analyzer/internal/archive"
	"github.com/p-blackswan/project-analyzer/internal/config"
	"github.com/p-blackswan/project-analyzer/internal/content"
	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
	"github.com/p-blackswan/project-analyzer/internal/event"
	"github.com/p-blackswan/project-analyzer/internal/metrics"
	"github.com/p-blackswan/project-analyzer/internal/synthesis"
	"github.com/p-blackswan/project-analyzer/internal/tree"
	"github.com/p-blackswan/project-analyzer/internal/triage"
)

const stageBuffer = 64

// ErrBarrierNotFired is returned when both branches finished without
// producing a summary. It indicates a stage returned early without an error.
var ErrBarrierNotFired = errors.New("pipeline: synthesis barrier did not fire")

// Config holds the settings the stages consume.
type Config struct {
	Limits          archive.Limits
	WorkRoot        string
	DeleteWorkDir   bool
	Triage          triage.Options
	Content         content.Options
	DraftMaxChars   int
	AnalysisWorkers int
}

// ConfigFrom maps process configuration onto pipeline settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Limits: archive.Limits{
			MaxArchiveBytes: cfg.ZipSizeLimitBytes(),
			MaxMemberBytes:  cfg.MaxMemberSizeBytes(),
		},
		WorkRoot:      cfg.WorkRoot,
		DeleteWorkDir: cfg.DeleteTempAfterRun,
		Triage: triage.Options{
			SampleBytes:     cfg.BinarySampleBytes,
			BinaryThreshold: cfg.BinaryThreshold,
			MaxFiles:        cfg.MaxFilesToAnalyze,
		},
		Content: content.Options{
			ReadMaxBytes:    cfg.ContentReadMaxBytes,
			SentenceWindow:  cfg.SummarySentenceWindow,
			SummaryMaxChars: cfg.SummaryMaxChars,
		},
		DraftMaxChars:   cfg.DraftMaxChars,
		AnalysisWorkers: cfg.AnalysisWorkers,
	}
}

// Artifacts is the complete result of a successful run.
type Artifacts struct {
	RunID          string                     `json:"run_id"`
	TreeText       string                     `json:"tree_text"`
	FileSummaries  []event.FileAnalysisResult `json:"file_summaries"`
	ProjectSummary string                     `json:"project_summary"`
	Draft          string                     `json:"draft"`
	Polished       bool                       `json:"polished"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records run, stage and file metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRules replaces the default triage rule table.
func WithRules(t *triage.Table) Option {
	return func(o *Orchestrator) { o.rules = t }
}

// Orchestrator owns the stages for any number of sequential or concurrent
// runs. Each Run gets its own working directory, channels and barrier.
type Orchestrator struct {
	cfg       Config
	validator *archive.Validator
	extractor *archive.Extractor
	analyzer  *content.Analyzer
	assembler *tree.Assembler
	synth     *synthesis.Synthesizer
	scorer    *triage.Scorer
	rules     *triage.Table
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New creates an Orchestrator. A nil polisher leaves every summary as its
// draft.
func New(cfg Config, polisher synthesis.Polisher, logger zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg.AnalysisWorkers < 1 {
		cfg.AnalysisWorkers = 1
	}
	o := &Orchestrator{
		cfg:    cfg,
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rules == nil {
		t, err := triage.DefaultRules().Compile()
		if err != nil {
			return nil, fmt.Errorf("compiling default triage rules: %w", err)
		}
		o.rules = t
	}

	o.validator = archive.NewValidator(cfg.Limits, logger)
	o.extractor = archive.NewExtractor(cfg.WorkRoot, cfg.Limits, logger)
	o.scorer = triage.NewScorer(o.rules, cfg.Triage, logger)
	o.analyzer = content.New(cfg.Content, logger)
	o.assembler = tree.NewAssembler(logger)
	o.synth = synthesis.NewSynthesizer(polisher, cfg.DraftMaxChars, logger)
	return o, nil
}

// Run analyses the archive at archivePath. observe, if non-nil, receives
// every event of the run, starting with NewUpload; it is called from several
// goroutines. On a validation or extraction failure Run returns a
// *perrors.ValidationError or *perrors.ExtractionError and no artifacts.
func (o *Orchestrator) Run(ctx context.Context, archivePath string, observe event.Observer) (*Artifacts, error) {
	r := &run{
		o:       o,
		id:      uuid.NewString(),
		observe: observe,
		start:   time.Now(),
	}
	r.logger = o.logger.With().Str("run_id", r.id).Logger()
	return r.execute(ctx, archivePath)
}

// run is the state of a single Run call.
type run struct {
	o       *Orchestrator
	id      string
	observe event.Observer
	logger  zerolog.Logger
	start   time.Time

	// Written by the barrier's finalize, read after all stages return.
	mu        sync.Mutex
	artifacts *Artifacts
}

func (r *run) emit(ev event.Event) {
	if r.observe != nil {
		r.observe(ev)
	}
}

func (r *run) finish(outcome string) {
	r.o.metrics.RecordRun(outcome, time.Since(r.start).Seconds())
}

func (r *run) timeStage(stage string, start time.Time) {
	r.o.metrics.ObserveStage(stage, time.Since(start).Seconds())
}

func (r *run) execute(ctx context.Context, archivePath string) (*Artifacts, error) {
	r.logger.Info().Str("archive", archivePath).Msg("run started")
	r.emit(event.NewUpload{ArchivePath: archivePath})

	t := time.Now()
	verdict := r.o.validator.Validate(archivePath)
	r.timeStage("validate", t)
	r.emit(verdict.Event())
	if !verdict.Valid {
		r.logger.Warn().Str("reason", verdict.Reason).Msg("archive rejected")
		r.o.metrics.RecordError("validator", "validation")
		r.finish(metrics.OutcomeInvalid)
		return nil, &perrors.ValidationError{ArchivePath: archivePath, Reason: verdict.Reason}
	}

	t = time.Now()
	workDir, err := r.o.extractor.Extract(ctx, archivePath)
	r.timeStage("extract", t)
	if err != nil {
		r.logger.Warn().Err(err).Msg("extraction aborted")
		r.emit(event.ExtractionFailed{Reason: err.Error()})
		r.o.metrics.RecordError("extractor", "extraction")
		r.finish(metrics.OutcomeExtractionFailed)
		return nil, err
	}
	if r.o.cfg.DeleteWorkDir {
		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				r.logger.Warn().Err(err).Str("dir", workDir).Msg("failed to remove working directory")
			}
		}()
	}

	if err := r.fanOut(ctx, workDir); err != nil {
		r.logger.Error().Err(err).Msg("run failed")
		r.o.metrics.RecordError("pipeline", "stage")
		r.finish(metrics.OutcomeError)
		return nil, err
	}

	r.mu.Lock()
	out := r.artifacts
	r.mu.Unlock()
	if out == nil {
		r.finish(metrics.OutcomeError)
		return nil, ErrBarrierNotFired
	}

	r.finish(metrics.OutcomeCompleted)
	r.logger.Info().
		Int("analysed", len(out.FileSummaries)).
		Bool("polished", out.Polished).
		Dur("elapsed", time.Since(r.start)).
		Msg("run completed")
	return out, nil
}

// fanOut runs discovery, triage with analysis, and tree assembly
// concurrently and returns once all of them, including the barrier's
// finalize, have finished.
func (r *run) fanOut(ctx context.Context, workDir string) error {
	triageIn := make(chan event.Event, stageBuffer)
	treeIn := make(chan event.Event, stageBuffer)

	stages := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	barrier := synthesis.NewBarrier(func(treeText string, results []event.FileAnalysisResult) {
		r.finalize(ctx, treeText, results)
	})
	stages.Go(func(ctx context.Context) error {
		return r.discover(ctx, workDir, triageIn, treeIn)
	})
	stages.Go(func(ctx context.Context) error {
		return r.triage(ctx, triageIn, barrier)
	})
	stages.Go(func(ctx context.Context) error {
		return r.tree(ctx, treeIn, barrier)
	})
	return stages.Wait()
}

// discover walks the working directory and feeds both branches, then closes
// their inputs.
func (r *run) discover(ctx context.Context, workDir string, outs ...chan<- event.Event) error {
	defer func() {
		for _, ch := range outs {
			close(ch)
		}
	}()

	send := func(ev event.Event) error {
		r.emit(ev)
		for _, ch := range outs {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	seq := 0
	n, err := archive.Discover(workDir, func(f event.DiscoveredFile) error {
		ev := event.FileDiscovered{File: f, Seq: seq}
		seq++
		return send(ev)
	})
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	r.logger.Debug().Int("files", n).Msg("discovery complete")
	return send(event.ExtractionDone{WorkingDir: workDir, Files: n})
}

// triage runs the scorer and the analysis pool it feeds. AnalysisComplete is
// emitted after the last FileAnalysed and latches the barrier.
func (r *run) triage(ctx context.Context, in <-chan event.Event, barrier *synthesis.Barrier) error {
	start := time.Now()
	analysis := newAnalysisStage(ctx, r)

	complete := false
	err := r.o.scorer.Run(ctx, in, func(ev event.Event) error {
		r.emit(ev)
		switch ev := ev.(type) {
		case event.FileSkipped:
			r.o.metrics.RecordFile(metrics.FileSkipped, "")
		case event.FileForAnalysis:
			analysis.submit(ev)
		case event.TriageComplete:
			complete = true
			r.timeStage("triage", start)
		default:
			return event.Unexpected("orchestrator", ev)
		}
		return nil
	})

	results := analysis.wait()
	if err != nil {
		return fmt.Errorf("triage: %w", err)
	}
	if !complete {
		return errors.New("triage: stopped before TriageComplete")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.timeStage("analysis", start)

	r.emit(event.AnalysisComplete{Analysed: len(results)})
	barrier.SetAnalysis(results)
	return nil
}

func (r *run) tree(ctx context.Context, in <-chan event.Event, barrier *synthesis.Barrier) error {
	start := time.Now()
	built, err := r.o.assembler.Run(ctx, in)
	if err != nil {
		return fmt.Errorf("tree: %w", err)
	}
	// Drain so discovery never blocks on a branch that has finished.
	for range in {
	}
	r.timeStage("tree", start)
	r.emit(built)
	barrier.SetTree(built.TreeText)
	return nil
}

// finalize runs once, on whichever branch latched the barrier last.
func (r *run) finalize(ctx context.Context, treeText string, results []event.FileAnalysisResult) {
	start := time.Now()
	draft, final := r.o.synth.Synthesize(ctx, results)
	r.timeStage("synthesis", start)
	r.emit(draft)
	r.emit(final)

	r.mu.Lock()
	r.artifacts = &Artifacts{
		RunID:          r.id,
		TreeText:       treeText,
		FileSummaries:  results,
		ProjectSummary: final.Text,
		Draft:          draft.Draft,
		Polished:       final.Polished,
	}
	r.mu.Unlock()
}

// analysisStage runs ContentAnalyzer calls on a bounded pool and collects
// the results keyed by triage rank.
type analysisStage struct {
	ctx     context.Context
	r       *run
	workers *pool.Pool

	mu      sync.Mutex
	results map[int]event.FileAnalysisResult
}

func newAnalysisStage(ctx context.Context, r *run) *analysisStage {
	return &analysisStage{
		ctx:     ctx,
		r:       r,
		workers: pool.New().WithMaxGoroutines(r.o.cfg.AnalysisWorkers),
		results: make(map[int]event.FileAnalysisResult),
	}
}

func (a *analysisStage) submit(job event.FileForAnalysis) {
	a.workers.Go(func() {
		if a.ctx.Err() != nil {
			return
		}
		res := a.r.o.analyzer.Analyze(job.File)
		a.mu.Lock()
		a.results[job.Rank] = res
		a.mu.Unlock()

		a.r.o.metrics.RecordFile(metrics.FileAnalysed, string(res.Kind))
		a.r.logger.Debug().
			Str("path", res.RelPath).
			Str("kind", string(res.Kind)).
			Int("score", job.Score).
			Msg("file analysed")
		a.r.emit(event.FileAnalysed{Result: res, Rank: job.Rank})
	})
}

// wait blocks until every submitted file is analysed and returns the results
// in triage order.
func (a *analysisStage) wait() []event.FileAnalysisResult {
	a.workers.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	ranks := make([]int, 0, len(a.results))
	for rank := range a.results {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	out := make([]event.FileAnalysisResult, 0, len(ranks))
	for _, rank := range ranks {
		out = append(out, a.results[rank])
	}
	return out
}
