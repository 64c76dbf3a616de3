package handler

import (
	"database/sql"
	"net/http"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"

	"docgate/docs"
	"docgate/internal/http/middleware"
	"docgate/internal/service"
)

// Options holds route-level switches.
type Options struct {
	// AllowSkipScan honours the skip_scan upload field.
	AllowSkipScan bool
	// Metrics, when set, is served on /metrics.
	Metrics http.Handler
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, db *sql.DB, docSvc service.DocumentService, opts Options) {
	app.Get("/swagger/*", SwaggerUI())

	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	documents := app.Group("/documents", middleware.ActorRole())
	documents.Get("/", ListDocuments(docSvc))
	documents.Post("/", UploadDocument(docSvc, opts.AllowSkipScan))
	documents.Get("/:id", GetDocument(docSvc))
	documents.Delete("/:id", DeleteDocument(docSvc))
	documents.Get("/:id/download", DownloadDocument(docSvc))
	documents.Get("/:id/transitions", DocumentTransitions(docSvc))
	documents.Patch("/:id/status", TransitionDocument(docSvc))
}

// swaggerMu guards docs.SwaggerInfo, which is rewritten per request.
var swaggerMu sync.Mutex

// SwaggerUI serves the API docs with the host and scheme of the current request.
func SwaggerUI() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}

		// held through rendering since doc.json reads the shared info back
		swaggerMu.Lock()
		defer swaggerMu.Unlock()

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	}
}
