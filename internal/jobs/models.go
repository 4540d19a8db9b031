// Package jobs runs analyses asynchronously for the HTTP front end.
package jobs

import (
	"sync"
	"time"

	"github.com/p-blackswan/project-analyzer/internal/event"
	"github.com/p-blackswan/project-analyzer/internal/pipeline"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusValidating   Status = "validating"
	StatusExtracting   Status = "extracting"
	StatusTriaging     Status = "triaging"
	StatusAnalyzing    Status = "analyzing"
	StatusSynthesizing Status = "synthesizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var statusOrder = map[Status]int{
	StatusPending:      0,
	StatusValidating:   1,
	StatusExtracting:   2,
	StatusTriaging:     3,
	StatusAnalyzing:    4,
	StatusSynthesizing: 5,
	StatusCompleted:    6,
	StatusFailed:       6,
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidStatus returns true if s names a known status.
func ValidStatus(s string) bool {
	_, ok := statusOrder[Status(s)]
	return ok
}

// statusFor maps a pipeline event to the stage it starts.
func statusFor(ev event.Event) (Status, bool) {
	switch ev.(type) {
	case event.NewUpload:
		return StatusValidating, true
	case event.ZipValid:
		return StatusExtracting, true
	case event.ExtractionDone:
		return StatusTriaging, true
	case event.FileForAnalysis, event.TriageComplete:
		return StatusAnalyzing, true
	case event.AnalysisComplete, event.ProjectDraft:
		return StatusSynthesizing, true
	}
	return "", false
}

// Job is one submitted archive and everything recorded about its run.
type Job struct {
	mu          sync.RWMutex        `json:"-"`
	ID          string              `json:"id"`
	ArchiveName string              `json:"archive_name"`
	Status      Status              `json:"status"`
	Error       string              `json:"error,omitempty"`
	Artifacts   *pipeline.Artifacts `json:"artifacts,omitempty"`
	EventCount  int                 `json:"event_count"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	DurationMs  int64               `json:"duration_ms,omitempty"`

	archivePath   string
	removeArchive bool
	events        []event.Envelope
}

// Snapshot returns a copy of the job that is safe to read without holding locks.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		ArchiveName: j.ArchiveName,
		Status:      j.Status,
		Error:       j.Error,
		Artifacts:   j.Artifacts,
		EventCount:  len(j.events),
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		DurationMs:  j.DurationMs,
	}
}

// advance moves the job forward. Events from concurrent stages may arrive
// out of stage order, so a status never moves backwards.
func (j *Job) advance(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() || statusOrder[s] <= statusOrder[j.Status] {
		return
	}
	j.Status = s
}

func (j *Job) record(env event.Envelope) {
	j.mu.Lock()
	j.events = append(j.events, env)
	j.mu.Unlock()
}

// finish sets the terminal state.
func (j *Job) finish(artifacts *pipeline.Artifacts, err error) {
	now := time.Now().UTC()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.DurationMs = now.Sub(*j.StartedAt).Milliseconds()
	}
	if err != nil {
		j.Status = StatusFailed
		j.Error = err.Error()
		return
	}
	j.Status = StatusCompleted
	j.Artifacts = artifacts
}

// SubmitRequest describes an archive to analyse.
type SubmitRequest struct {
	ArchivePath string
	// ArchiveName is the name shown to users, usually the upload file name.
	ArchiveName string
	// RemoveArchive deletes ArchivePath once the job ends.
	RemoveArchive bool
}

// Page size bounds for List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// ListQuery holds filters for List.
type ListQuery struct {
	Status string `query:"status"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

// Normalized returns q with the paging that List applies: a missing limit
// becomes DefaultListLimit, larger ones are capped at MaxListLimit and a
// negative offset becomes zero.
func (q ListQuery) Normalized() ListQuery {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultListLimit
	case q.Limit > MaxListLimit:
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Stats summarizes the jobs in history.
type Stats struct {
	TotalJobs     int            `json:"total_jobs"`
	ByStatus      map[string]int `json:"by_status"`
	AvgDurationMs int64          `json:"avg_duration_ms"`
}
