package server

import (
	"log"
	"time"

	"ai-research-be/internal/bootstrap"
	"ai-research-be/internal/config"
	"ai-research-be/internal/pkg/serverutils"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberws "github.com/gofiber/websocket/v2"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	app *fiber.App
	cfg *config.Config
}

func New(cfg *config.Config, container *bootstrap.Container) *Server {
	app := fiber.New(fiber.Config{
		AppName:   "ai-research-backend",
		BodyLimit: 64 * 1024,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CorsAllowedOrigins,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, OPTIONS",
	}))

	// websocket upgrades live for the whole connection, dispatch spans cover the work
	app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
		return fiberws.IsWebSocketUpgrade(c) || c.Path() == "/health"
	})))

	app.Use(serverutils.ErrorHandlerMiddleware())

	app.Get("/health", container.ResearchHandler.Health)
	container.ResearchHandler.RegisterRoutes(app.Group("/api"))

	return &Server{app: app, cfg: cfg}
}

func (s *Server) Run() error {
	log.Printf("Research server listening on :%s (%s)", s.cfg.App.Port, s.cfg.App.Environment)
	return s.app.Listen(":" + s.cfg.App.Port)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(shutdownTimeout)
}
