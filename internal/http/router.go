package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"pinforge/internal/http/handlers"
	"pinforge/internal/middleware"
)

// NewRouter wires the API surface. Static file serving for generated images
// is mounted under /files when a storage base path is configured.
func NewRouter(app *handlers.App, logger zerolog.Logger, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(allowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", app.CreateRun)
		r.Get("/{id}", app.GetRun)
		r.Get("/{id}/export", app.ExportRun)
		r.Post("/{id}/items/{itemID}/template", app.ChangeItemTemplate)
	})

	r.Route("/api/bulk-runs", func(r chi.Router) {
		r.Post("/", app.CreateBulkRun)
		r.Get("/{id}", app.GetBulkRun)
		r.Get("/{id}/rows/{rowID}/pins", app.GetBulkRowPins)
	})

	if app.Store != nil && app.Store.BasePath() != "" {
		fileServer := http.StripPrefix("/files/", http.FileServer(http.Dir(app.Store.BasePath())))
		r.Get("/files/*", fileServer.ServeHTTP)
	}

	return r
}
