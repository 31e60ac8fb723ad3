package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/facegate/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/facegate/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/facegate/internal/api/middleware"
)

// multipart overhead allowed on top of the image itself
const formOverhead = 64 * 1024

type Dependencies struct {
	Enroller   handler.Enroller
	Recognizer handler.Recognizer
	Index      handler.IndexStats
	Store      handler.StorePinger
	Model      string

	APIKey         string
	AllowedOrigins string
	MaxFileSize    int64
	RateLimit      middleware.RateLimiterConfig
}

type Router struct {
	app         *fiber.App
	logger      *slog.Logger
	deps        *Dependencies
	rateLimiter *middleware.RateLimiter
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.MaxFileSize <= 0 {
		deps.MaxFileSize = handler.DefaultMaxImageSize
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      handler.ServiceName,
		BodyLimit:    int(deps.MaxFileSize) + formOverhead,
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	// Global middlewares
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger))

	origins := r.deps.AllowedOrigins
	if origins == "" {
		origins = "*"
	}
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key",
	}))

	// Swagger documentation (no auth required)
	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	// Health and root endpoints (no auth required)
	healthHandler := handler.NewHealthHandler(r.deps.Index, r.deps.Store, r.deps.Model)
	r.app.Get("/", healthHandler.Root)

	v1 := r.app.Group("/v1")
	v1.Get("/health", healthHandler.Health)

	// Face routes require the pipelines
	if r.deps.Enroller == nil || r.deps.Recognizer == nil {
		return
	}

	faces := v1.Group("/faces")
	faces.Use(middleware.Auth(r.deps.APIKey))

	r.rateLimiter = middleware.NewRateLimiter(r.deps.RateLimit)
	faces.Use(r.rateLimiter.Handler())

	faceHandler := handler.NewFaceHandler(r.deps.Enroller, r.deps.Recognizer, r.deps.MaxFileSize, r.logger)
	faces.Post("/register", faceHandler.Register)
	faces.Post("/recognize", faceHandler.Recognize)
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

func (r *Router) Shutdown() error {
	// Stop rate limiter cleanup goroutine
	if r.rateLimiter != nil {
		r.rateLimiter.Stop()
	}

	return r.app.Shutdown()
}
