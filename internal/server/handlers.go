package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-analyzer/internal/event"
	"github.com/p-blackswan/project-analyzer/internal/jobs"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// JobResponse wraps a job for API responses.
type JobResponse struct {
	Job *jobs.Job `json:"job"`
}

// JobListResponse wraps a page of jobs.
type JobListResponse struct {
	Jobs   []*jobs.Job `json:"jobs"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// EventsResponse is the event log of one job.
type EventsResponse struct {
	JobID  string           `json:"job_id"`
	Events []event.Envelope `json:"events"`
}

type handlers struct {
	engine    *jobs.Engine
	uploadDir string
}

func newHandlers(engine *jobs.Engine, uploadDir string) *handlers {
	return &handlers{engine: engine, uploadDir: uploadDir}
}

// submit handles POST /api/v1/analyses with a multipart "file" field.
func (h *handlers) submit(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_file", "Bad Request",
			`Multipart field "file" is required`)
	}
	name := filepath.Base(fh.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".zip") {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_file_type", "Bad Request",
			"Only .zip archives are accepted")
	}

	dst, err := os.CreateTemp(h.uploadDir, "upload-*.zip")
	if err != nil {
		return h.internal(c, "cannot create upload file", err)
	}
	dstPath := dst.Name()
	_ = dst.Close()
	if err := c.SaveFile(fh, dstPath); err != nil {
		_ = os.Remove(dstPath)
		return h.internal(c, "cannot store upload", err)
	}

	job, err := h.engine.Submit(jobs.SubmitRequest{
		ArchivePath:   dstPath,
		ArchiveName:   name,
		RemoveArchive: true,
	})
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			return problemResponse(c, fiber.StatusServiceUnavailable,
				"queue_full", "Service Unavailable",
				err.Error())
		}
		_ = os.Remove(dstPath)
		return h.internal(c, "cannot submit job", err)
	}

	zerolog.Ctx(c.UserContext()).Info().
		Str("job_id", job.ID).
		Str("archive", name).
		Int64("bytes", fh.Size).
		Msg("analysis submitted")

	c.Location("/api/v1/analyses/" + job.ID)
	return c.Status(fiber.StatusAccepted).JSON(JobResponse{Job: job})
}

// list handles GET /api/v1/analyses.
func (h *handlers) list(c *fiber.Ctx) error {
	q := jobs.ListQuery{
		Status: c.Query("status"),
		Limit:  c.QueryInt("limit", jobs.DefaultListLimit),
		Offset: c.QueryInt("offset", 0),
	}.Normalized()
	if q.Status != "" && !jobs.ValidStatus(q.Status) {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_status", "Bad Request",
			"Unknown status: "+q.Status)
	}

	list, total := h.engine.List(q)
	if list == nil {
		list = []*jobs.Job{}
	}
	return c.JSON(JobListResponse{
		Jobs:   list,
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}

// get handles GET /api/v1/analyses/:id.
func (h *handlers) get(c *fiber.Ctx) error {
	id := c.Params("id")
	job, ok := h.engine.Get(id)
	if !ok {
		return notFound(c, id)
	}
	return c.JSON(JobResponse{Job: job})
}

// events handles GET /api/v1/analyses/:id/events.
func (h *handlers) events(c *fiber.Ctx) error {
	id := c.Params("id")
	evs, err := h.engine.Events(id)
	if err != nil {
		return notFound(c, id)
	}
	if evs == nil {
		evs = []event.Envelope{}
	}
	return c.JSON(EventsResponse{JobID: id, Events: evs})
}

// stats handles GET /api/v1/stats.
func (h *handlers) stats(c *fiber.Ctx) error {
	return c.JSON(h.engine.Stats())
}

func (h *handlers) internal(c *fiber.Ctx, msg string, err error) error {
	zerolog.Ctx(c.UserContext()).Error().Err(err).Msg(msg)
	return problemResponse(c, fiber.StatusInternalServerError,
		"internal_error", "Internal Server Error",
		"An internal error occurred")
}

func notFound(c *fiber.Ctx, id string) error {
	return problemResponse(c, fiber.StatusNotFound,
		"analysis_not_found", "Not Found",
		"Analysis not found: "+id)
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
