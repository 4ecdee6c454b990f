package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/colinrozzi/th-commit/pkg/persistence"
)

// StatusAPI exposes a read-only HTTP view of the daemon: health, the runs
// currently registered, and the archived run history. All control-plane
// operations stay on the frame protocol.
type StatusAPI struct {
	server *Server

	mu  sync.Mutex
	app *fiber.App
}

func NewStatusAPI(server *Server) *StatusAPI {
	return &StatusAPI{server: server}
}

func (a *StatusAPI) App() *fiber.App {
	app := fiber.New()
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("th-commit daemon")
	})

	app.Get("/health", a.Health)
	app.Get("/status", a.Status)

	r := app.Group("/runs")
	r.Get("/", a.ListRuns)
	r.Get("/:id", a.GetRun)

	return app
}

func (a *StatusAPI) Start(port int) error {
	a.mu.Lock()
	app := a.App()
	a.app = app
	a.mu.Unlock()

	return app.Listen(":" + strconv.Itoa(port))
}

// Shutdown stops the HTTP listener. It is a no-op when the API was never
// started.
func (a *StatusAPI) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	app := a.app
	a.app = nil
	a.mu.Unlock()

	if app == nil {
		return nil
	}

	return app.ShutdownWithContext(ctx)
}

func (a *StatusAPI) Health(c fiber.Ctx) error {
	status := "healthy"
	message := "th-commit daemon is healthy"
	httpStatus := http.StatusOK

	if err := a.server.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "run history storage is unavailable: " + err.Error()
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func (a *StatusAPI) Status(c fiber.Ctx) error {
	runs := a.server.registeredRuns()

	return c.JSON(fiber.Map{
		"started_at": a.server.startedAt,
		"uptime":     time.Since(a.server.startedAt).String(),
		"runs":       runs,
		"run_count":  len(runs),
	})
}

func (a *StatusAPI) ListRuns(c fiber.Ctx) error {
	records, err := a.server.persistence.RunRepository().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":  records,
		"count": len(records),
	})
}

func (a *StatusAPI) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	if run, ok := a.server.getRun(id); ok && !run.Terminal() {
		return c.JSON(RunStatus{
			RunID:          run.ID,
			State:          run.State(),
			RepositoryPath: run.Request.RepositoryPath,
			StartedAt:      run.StartedAt,
		})
	}

	record, err := a.server.persistence.RunRepository().GetByID(c.Context(), id)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return notFound(c, "Run not found")
		}

		return internalError(c, err)
	}

	return c.JSON(record)
}
