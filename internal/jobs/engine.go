package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-analyzer/internal/event"
	"github.com/p-blackswan/project-analyzer/internal/metrics"
	"github.com/p-blackswan/project-analyzer/internal/pipeline"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("job queue is full")
	// ErrNotFound is returned for unknown or evicted job IDs.
	ErrNotFound = errors.New("job not found")
)

// Runner executes one analysis. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, archivePath string, observe event.Observer) (*pipeline.Artifacts, error)
}

// Config holds configuration for the engine.
type Config struct {
	Workers     int
	QueueSize   int
	HistorySize int
	// Timeout is the wall-clock budget of one job. Zero means no budget.
	Timeout time.Duration
}

// Engine queues jobs and runs them on a fixed set of workers.
type Engine struct {
	cfg     Config
	runner  Runner
	history *history
	queue   chan *Job
	metrics *metrics.Metrics
	logger  zerolog.Logger

	active  atomic.Int32
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewEngine creates an engine. m may be nil.
func NewEngine(cfg Config, runner Runner, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	return &Engine{
		cfg:     cfg,
		runner:  runner,
		history: newHistory(cfg.HistorySize),
		queue:   make(chan *Job, cfg.QueueSize),
		metrics: m,
		logger:  logger.With().Str("component", "job_engine").Logger(),
	}
}

// Start launches worker goroutines.
func (e *Engine) Start(ctx context.Context) {
	if e.running.Swap(true) {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info().Int("workers", e.cfg.Workers).Dur("timeout", e.cfg.Timeout).Msg("job engine started")
}

// Stop cancels running jobs and waits for the workers to exit.
func (e *Engine) Stop() {
	if !e.running.Swap(false) {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info().Msg("job engine stopped")
}

// Submit records a pending job and enqueues it.
func (e *Engine) Submit(req SubmitRequest) (*Job, error) {
	if req.ArchivePath == "" {
		return nil, errors.New("archive path is required")
	}
	name := req.ArchiveName
	if name == "" {
		name = req.ArchivePath
	}

	job := &Job{
		ID:            uuid.New().String(),
		ArchiveName:   name,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
		archivePath:   req.ArchivePath,
		removeArchive: req.RemoveArchive,
	}
	if evicted := e.history.add(job); evicted != nil {
		e.logger.Debug().Str("job_id", evicted.ID).Msg("job evicted from history")
	}

	select {
	case e.queue <- job:
		e.logger.Info().Str("job_id", job.ID).Str("archive", name).Msg("job enqueued")
		e.updateGauges()
		snap := job.Snapshot()
		return &snap, nil
	default:
		job.finish(nil, ErrQueueFull)
		e.cleanup(job)
		snap := job.Snapshot()
		return &snap, ErrQueueFull
	}
}

// Get returns a snapshot of the job.
func (e *Engine) Get(id string) (*Job, bool) {
	j, ok := e.history.get(id)
	if !ok {
		return nil, false
	}
	snap := j.Snapshot()
	return &snap, true
}

// Events returns a copy of the job's event log in emission order.
func (e *Engine) Events(id string) ([]event.Envelope, error) {
	j, ok := e.history.get(id)
	if !ok {
		return nil, ErrNotFound
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]event.Envelope(nil), j.events...), nil
}

// List returns jobs newest first, filtered and paginated, plus the number of
// jobs that matched the filter.
func (e *Engine) List(q ListQuery) ([]*Job, int) {
	q = q.Normalized()
	var filtered []*Job
	for _, j := range e.history.all() {
		snap := j.Snapshot()
		if q.Status != "" && string(snap.Status) != q.Status {
			continue
		}
		filtered = append(filtered, &snap)
	}
	sort.SliceStable(filtered, func(a, b int) bool {
		return filtered[a].CreatedAt.After(filtered[b].CreatedAt)
	})

	total := len(filtered)
	offset := q.Offset
	if offset >= total {
		return nil, total
	}
	end := offset + q.Limit
	if end > total {
		end = total
	}

	return filtered[offset:end], total
}

// Stats returns summary statistics over the jobs in history.
func (e *Engine) Stats() Stats {
	s := Stats{ByStatus: make(map[string]int)}
	var total, done int64
	for _, j := range e.history.all() {
		snap := j.Snapshot()
		s.TotalJobs++
		s.ByStatus[string(snap.Status)]++
		if snap.Status == StatusCompleted {
			total += snap.DurationMs
			done++
		}
	}
	if done > 0 {
		s.AvgDurationMs = total / done
	}
	return s
}

// Accepting reports whether the engine is running and has queue capacity.
func (e *Engine) Accepting() bool {
	return e.running.Load() && len(e.queue) < cap(e.queue)
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	log := e.logger.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker stopping")
			return
		case job := <-e.queue:
			e.execute(ctx, job, log)
		}
	}
}

func (e *Engine) execute(ctx context.Context, job *Job, log zerolog.Logger) {
	e.active.Add(1)
	e.updateGauges()
	defer func() {
		e.active.Add(-1)
		e.updateGauges()
	}()
	defer e.cleanup(job)

	now := time.Now().UTC()
	job.mu.Lock()
	job.StartedAt = &now
	job.mu.Unlock()

	log = log.With().Str("job_id", job.ID).Logger()
	log.Info().Str("archive", job.ArchiveName).Msg("job started")

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.cfg.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	}
	defer cancel()

	artifacts, err := e.runner.Run(jobCtx, job.archivePath, func(ev event.Event) {
		if s, ok := statusFor(ev); ok {
			job.advance(s)
		}
		env, werr := event.Wrap(ev)
		if werr != nil {
			log.Warn().Err(werr).Str("type", string(ev.Type())).Msg("failed to encode event")
			return
		}
		job.record(env)
	})
	if err == nil && jobCtx.Err() != nil {
		err = jobCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("job exceeded its %s budget: %w", e.cfg.Timeout, err)
		artifacts = nil
	}

	job.finish(artifacts, err)
	if err != nil {
		log.Error().Err(err).Msg("job failed")
		return
	}
	log.Info().Msg("job completed")
}

// cleanup removes the uploaded archive once the job ends.
func (e *Engine) cleanup(job *Job) {
	if !job.removeArchive {
		return
	}
	if err := os.Remove(job.archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to remove uploaded archive")
	}
}

func (e *Engine) updateGauges() {
	e.metrics.SetJobs(len(e.queue), int(e.active.Load()))
}
