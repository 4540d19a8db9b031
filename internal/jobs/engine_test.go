package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
	"github.com/p-blackswan/project-analyzer/internal/event"
	"github.com/p-blackswan/project-analyzer/internal/metrics"
	"github.com/p-blackswan/project-analyzer/internal/pipeline"
)

type runFunc func(ctx context.Context, archivePath string, observe event.Observer) (*pipeline.Artifacts, error)

func (f runFunc) Run(ctx context.Context, archivePath string, observe event.Observer) (*pipeline.Artifacts, error) {
	return f(ctx, archivePath, observe)
}

var successfulRun = runFunc(func(_ context.Context, p string, observe event.Observer) (*pipeline.Artifacts, error) {
	observe(event.NewUpload{ArchivePath: p})
	observe(event.ZipValid{ArchivePath: p})
	observe(event.ExtractionDone{WorkingDir: "/tmp/analysis-1", Files: 1})
	observe(event.FileForAnalysis{File: event.DiscoveredFile{RelPath: "README.md"}, Score: 100})
	observe(event.TreeBuilt{TreeText: "analysis-1/\n└── README.md"})
	observe(event.AnalysisComplete{Analysed: 1})
	observe(event.ProjectDraft{Draft: "Demo."})
	observe(event.SummaryPolished{Text: "Demo."})
	return &pipeline.Artifacts{TreeText: "analysis-1/\n└── README.md", ProjectSummary: "Demo."}, nil
})

func newTestEngine(t *testing.T, runner Runner, cfg Config) *Engine {
	t.Helper()
	e := NewEngine(cfg, runner, nil, zerolog.Nop())
	e.Start(t.Context())
	t.Cleanup(e.Stop)
	return e
}

func waitTerminal(t *testing.T, e *Engine, id string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, ok := e.Get(id)
		if !ok {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestEngine_SubmitAndComplete(t *testing.T) {
	e := newTestEngine(t, successfulRun, Config{Workers: 1})

	job, err := e.Submit(SubmitRequest{ArchivePath: "/uploads/a.zip", ArchiveName: "a.zip"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "a.zip", job.ArchiveName)

	done := waitTerminal(t, e, job.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Artifacts)
	assert.Equal(t, "Demo.", done.Artifacts.ProjectSummary)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, 8, done.EventCount)
}

func TestEngine_EventLog(t *testing.T) {
	e := newTestEngine(t, successfulRun, Config{Workers: 1})

	job, err := e.Submit(SubmitRequest{ArchivePath: "/uploads/a.zip"})
	require.NoError(t, err)
	waitTerminal(t, e, job.ID)

	events, err := e.Events(job.ID)
	require.NoError(t, err)
	require.Len(t, events, 8)
	assert.Equal(t, event.TypeNewUpload, events[0].Type)
	assert.Equal(t, event.TypeSummaryPolished, events[7].Type)
	assert.JSONEq(t, `{"archive_path":"/uploads/a.zip"}`, string(events[0].Payload))

	_, err = e.Events("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_FailedRun(t *testing.T) {
	runner := runFunc(func(_ context.Context, p string, observe event.Observer) (*pipeline.Artifacts, error) {
		observe(event.NewUpload{ArchivePath: p})
		observe(event.ZipInvalid{ArchivePath: p, Reason: "Not a ZIP archive"})
		return nil, &perrors.ValidationError{ArchivePath: p, Reason: "Not a ZIP archive"}
	})
	e := newTestEngine(t, runner, Config{Workers: 1})

	job, err := e.Submit(SubmitRequest{ArchivePath: "/uploads/bad.zip"})
	require.NoError(t, err)

	done := waitTerminal(t, e, job.ID)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, "Not a ZIP archive")
	assert.Nil(t, done.Artifacts)
}

func TestEngine_TimeoutDiscardsResult(t *testing.T) {
	runner := runFunc(func(ctx context.Context, _ string, _ event.Observer) (*pipeline.Artifacts, error) {
		<-ctx.Done()
		return &pipeline.Artifacts{ProjectSummary: "late"}, nil
	})
	e := newTestEngine(t, runner, Config{Workers: 1, Timeout: 20 * time.Millisecond})

	job, err := e.Submit(SubmitRequest{ArchivePath: "/uploads/slow.zip"})
	require.NoError(t, err)

	done := waitTerminal(t, e, job.ID)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, "budget")
	assert.Nil(t, done.Artifacts)
}

func TestEngine_RemovesUploadedArchive(t *testing.T) {
	p := filepath.Join(t.TempDir(), "upload.zip")
	require.NoError(t, os.WriteFile(p, []byte("PK"), 0o644))

	e := newTestEngine(t, successfulRun, Config{Workers: 1})
	job, err := e.Submit(SubmitRequest{ArchivePath: p, RemoveArchive: true})
	require.NoError(t, err)
	waitTerminal(t, e, job.ID)

	require.Eventually(t, func() bool {
		_, err := os.Stat(p)
		return errors.Is(err, os.ErrNotExist)
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_KeepsArchiveByDefault(t *testing.T) {
	p := filepath.Join(t.TempDir(), "local.zip")
	require.NoError(t, os.WriteFile(p, []byte("PK"), 0o644))

	e := newTestEngine(t, successfulRun, Config{Workers: 1})
	job, err := e.Submit(SubmitRequest{ArchivePath: p})
	require.NoError(t, err)
	waitTerminal(t, e, job.ID)

	_, err = os.Stat(p)
	assert.NoError(t, err)
}

func TestEngine_QueueFull(t *testing.T) {
	// Not started, so nothing drains the queue.
	e := NewEngine(Config{Workers: 1, QueueSize: 1}, successfulRun, nil, zerolog.Nop())

	_, err := e.Submit(SubmitRequest{ArchivePath: "/a.zip"})
	require.NoError(t, err)

	job, err := e.Submit(SubmitRequest{ArchivePath: "/b.zip"})
	assert.ErrorIs(t, err, ErrQueueFull)
	require.NotNil(t, job)
	assert.Equal(t, StatusFailed, job.Status)
	assert.False(t, e.Accepting())
}

func TestEngine_SubmitRequiresPath(t *testing.T) {
	e := NewEngine(Config{}, successfulRun, nil, zerolog.Nop())
	_, err := e.Submit(SubmitRequest{})
	assert.Error(t, err)
}

func TestEngine_HistoryEviction(t *testing.T) {
	e := NewEngine(Config{Workers: 1, QueueSize: 10, HistorySize: 2}, successfulRun, nil, zerolog.Nop())

	first, err := e.Submit(SubmitRequest{ArchivePath: "/1.zip"})
	require.NoError(t, err)
	_, err = e.Submit(SubmitRequest{ArchivePath: "/2.zip"})
	require.NoError(t, err)
	_, err = e.Submit(SubmitRequest{ArchivePath: "/3.zip"})
	require.NoError(t, err)

	_, ok := e.Get(first.ID)
	assert.False(t, ok)
	assert.Equal(t, 2, e.history.len())
}

func TestEngine_ListAndStats(t *testing.T) {
	e := NewEngine(Config{Workers: 1, QueueSize: 10}, successfulRun, nil, zerolog.Nop())
	var ids []string
	for _, p := range []string{"/1.zip", "/2.zip", "/3.zip"} {
		j, err := e.Submit(SubmitRequest{ArchivePath: p})
		require.NoError(t, err)
		ids = append(ids, j.ID)
		time.Sleep(time.Millisecond)
	}

	jobs, total := e.List(ListQuery{})
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].ID)

	page, total := e.List(ListQuery{Limit: 1, Offset: 1})
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	none, total := e.List(ListQuery{Status: string(StatusCompleted)})
	assert.Equal(t, 0, total)
	assert.Empty(t, none)

	stats := e.Stats()
	assert.Equal(t, 3, stats.TotalJobs)
	assert.Equal(t, 3, stats.ByStatus[string(StatusPending)])
}

func TestListQuery_Normalized(t *testing.T) {
	tests := []struct {
		in, want ListQuery
	}{
		{ListQuery{}, ListQuery{Limit: DefaultListLimit}},
		{ListQuery{Limit: -3, Offset: -1}, ListQuery{Limit: DefaultListLimit}},
		{ListQuery{Limit: 500, Offset: 20}, ListQuery{Limit: MaxListLimit, Offset: 20}},
		{ListQuery{Status: "failed", Limit: 7}, ListQuery{Status: "failed", Limit: 7}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalized(), "%+v", tt.in)
	}
}

func TestEngine_ListNegativeOffsetStartsAtFirst(t *testing.T) {
	e := NewEngine(Config{Workers: 1, QueueSize: 10}, successfulRun, nil, zerolog.Nop())
	_, err := e.Submit(SubmitRequest{ArchivePath: "/1.zip"})
	require.NoError(t, err)

	page, total := e.List(ListQuery{Limit: 1, Offset: -5})
	assert.Equal(t, 1, total)
	assert.Len(t, page, 1)
}

func TestEngine_Gauges(t *testing.T) {
	m := metrics.New()
	e := NewEngine(Config{Workers: 1, QueueSize: 5}, successfulRun, m, zerolog.Nop())
	_, err := e.Submit(SubmitRequest{ArchivePath: "/1.zip"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsQueued))
}

func TestJob_AdvanceNeverRegresses(t *testing.T) {
	j := &Job{Status: StatusPending}
	j.advance(StatusAnalyzing)
	j.advance(StatusTriaging)
	assert.Equal(t, StatusAnalyzing, j.Status)

	j.finish(nil, nil)
	j.advance(StatusSynthesizing)
	assert.Equal(t, StatusCompleted, j.Status)
}

func TestStatusFor(t *testing.T) {
	s, ok := statusFor(event.ZipValid{})
	assert.True(t, ok)
	assert.Equal(t, StatusExtracting, s)

	_, ok = statusFor(event.FileSkipped{})
	assert.False(t, ok)
}

func TestHistory_RecentlyUsedSurvives(t *testing.T) {
	h := newHistory(2)
	a, b, c := &Job{ID: "a"}, &Job{ID: "b"}, &Job{ID: "c"}
	h.add(a)
	h.add(b)
	_, ok := h.get("a")
	require.True(t, ok)

	evicted := h.add(c)
	require.NotNil(t, evicted)
	assert.Equal(t, "b", evicted.ID)

	ids := []string{}
	for _, j := range h.all() {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"c", "a"}, ids)
}
