// Package server exposes the job engine over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-analyzer/internal/health"
	"github.com/p-blackswan/project-analyzer/internal/jobs"
	"github.com/p-blackswan/project-analyzer/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// Config holds configuration for the HTTP server.
type Config struct {
	ListenAddr  string
	CORSOrigins string
	// UploadDir receives uploaded archives. Empty means the system temp dir.
	UploadDir      string
	MaxUploadBytes int
}

// Server is the analyzer's Fiber application.
type Server struct {
	app    *fiber.App
	config Config
	logger zerolog.Logger
}

// NewServer creates and configures the HTTP server. m may be nil.
func NewServer(cfg Config, engine *jobs.Engine, checker *health.Checker, m *metrics.Metrics, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "http_server").Logger()

	bodyLimit := cfg.MaxUploadBytes
	if bodyLimit <= 0 {
		bodyLimit = fiber.DefaultBodyLimit
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             bodyLimit,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{app: app, config: cfg, logger: logger}
	s.setupMiddleware(m)
	s.setupRoutes(newHandlers(engine, cfg.UploadDir), checker, m)
	return s
}

func (s *Server) setupMiddleware(m *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID, echoed back and bound to a request-scoped logger.
	s.app.Use(func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals("request_id", reqID)

		reqLogger := s.logger.With().Str("request_id", reqID).Logger()
		c.SetUserContext(reqLogger.WithContext(c.UserContext()))
		return c.Next()
	})

	if s.config.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: s.config.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, " + requestIDHeader,
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	// Audit and request metrics.
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		m.RecordRequest(c.Method(), c.Route().Path, status, time.Since(start).Seconds())

		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return err
		}
		zerolog.Ctx(c.UserContext()).Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
		return err
	})
}

func (s *Server) setupRoutes(h *handlers, checker *health.Checker, m *metrics.Metrics) {
	s.app.Get("/healthz", health.LivenessHandler())
	s.app.Get("/readyz", checker.ReadinessHandler())

	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	v1 := s.app.Group("/api/v1")
	v1.Post("/analyses", h.submit)
	v1.Get("/analyses", h.list)
	v1.Get("/analyses/:id", h.get)
	v1.Get("/analyses/:id/events", h.events)
	v1.Get("/stats", h.stats)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8000"
	}
	s.logger.Info().Str("addr", addr).Msg("http server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("http server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		title := "Internal Server Error"
		detail := "An internal error occurred"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			title = statusTitle(code)
			detail = fe.Message
		}

		evt := logger.Debug()
		if code >= fiber.StatusInternalServerError {
			evt = logger.Error()
		}
		evt.Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		return problemResponse(c, code, "http_error", title, detail)
	}
}

func statusTitle(code int) string {
	if msg := utils.StatusMessage(code); msg != "" {
		return msg
	}
	return "Error"
}
