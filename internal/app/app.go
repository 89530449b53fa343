package app

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"html2pdf-proxy/internal/access"
	"html2pdf-proxy/internal/config"
	"html2pdf-proxy/internal/handlers"
	log "html2pdf-proxy/internal/infra/logging"
	"html2pdf-proxy/internal/render"
	"html2pdf-proxy/web"
)

// Deps are the collaborators built by the process entry point.
type Deps struct {
	Renderer render.Renderer
	// Tokens gates the conversion routes when set.
	Tokens *access.Store
	// LimiterStore backs the rate limiters. Memory storage is created when
	// it is nil and a limiter is enabled.
	LimiterStore fiber.Storage
	// Ready reports readiness on /readyz. Always ready when nil.
	Ready func() bool
}

// SetupApp creates and configures a new Fiber app instance
func SetupApp(cfg config.Config, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit(),
		Concurrency:           cfg.Server.MaxConnections,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			log.Warn("Request failed", "path", c.Path(), "status", code, "reason", msg)
			return errorJSON(c, code, msg)
		},
	})

	RegisterMiddleware(app, deps)
	RegisterRoutes(app, cfg, deps)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, cfg config.Config, deps Deps) {
	svc := handlers.NewConvertService(deps.Renderer)
	chain := conversionChain(cfg, deps)

	route := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, chain...), h)
	}
	app.Post("/upload", route(svc.HandleUpload)...)
	app.Post("/preview", route(svc.HandlePreview)...)

	app.Get("/favicon.ico", func(c *fiber.Ctx) error {
		c.Status(fiber.StatusNotFound)
		return nil
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/monitor", monitor.New(monitor.Config{Title: "html2pdf-proxy"}))

	app.Use(filesystem.New(filesystem.Config{
		Root:  staticRoot(cfg.Server.StaticDir),
		Index: "index.html",
	}))
}

func staticRoot(dir string) http.FileSystem {
	if dir != "" {
		log.Info("Serving static files from directory", "dir", dir)
		return http.Dir(dir)
	}
	return http.FS(web.Static())
}

func errorJSON(c *fiber.Ctx, code int, msg string) error {
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}
