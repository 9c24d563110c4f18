// Package api assembles the HTTP and websocket surface of the answer service.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/dblp-kgqa/kgqa/internal/api/handlers"
	"github.com/dblp-kgqa/kgqa/internal/metrics"
	"github.com/dblp-kgqa/kgqa/internal/middleware/ratelimit"
	"github.com/dblp-kgqa/kgqa/internal/middleware/security"
	"github.com/dblp-kgqa/kgqa/internal/middleware/validation"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

type Config struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	BodyLimit         int
	RequestsPerMinute int
	MaxQuestionLength int
	AllowedOrigins    []string
	IsDevelopment     bool
	// AccessLog enables fiber's request logger.
	AccessLog bool
}

type Dependencies struct {
	Engine handlers.Answerer
	TopK   int
	// Runs and Audit are optional; the run endpoints are only mounted when
	// Runs is set.
	Runs  handlers.RunStore
	Audit handlers.OutcomeLog
	// Ready reports whether collaborators are reachable.
	Ready func() error
}

// NewApp builds the fiber app. The returned stop func releases the rate
// limiter's background goroutine.
func NewApp(cfg Config, deps Dependencies) (*fiber.App, func()) {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RequestsPerMinute,
		Logger:               logger.GetLogger(),
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: func() string { return uuid.New().String() },
	}))
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.IsDevelopment,
	}))

	allowOrigins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.AllowedOrigins, ", ")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	answerHandler := handlers.NewAnswerHandler(deps.Engine, deps.Audit, deps.TopK)
	wsHandler := handlers.NewWebSocketHandler(answerHandler, cfg.MaxQuestionLength)

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "unavailable",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	api.Post("/answer",
		limiter.Middleware(),
		validation.Middleware(validation.Config{
			MaxQuestionLength: cfg.MaxQuestionLength,
			Logger:            logger.GetLogger(),
		}),
		answerHandler.HandleAnswer,
	)

	if deps.Runs != nil {
		runsHandler := handlers.NewRunsHandler(deps.Runs)
		api.Get("/runs", runsHandler.ListRuns)
		api.Get("/runs/:id", runsHandler.GetRun)
		api.Get("/runs/:id/outcomes", runsHandler.ListOutcomes)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/answer", limiter.Middleware(), websocket.New(wsHandler.HandleConnection))

	return app, limiter.Stop
}
