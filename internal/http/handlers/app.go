package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"pinforge/internal/domain"
	"pinforge/internal/storage"
)

// TaskQueue schedules run execution on the worker.
type TaskQueue interface {
	EnqueueRun(ctx context.Context, runID string) error
	EnqueueBulkRun(ctx context.Context, runID string) error
}

// TemplateChanger recomposites a finished item with a different template.
type TemplateChanger interface {
	ChangeTemplate(ctx context.Context, itemID, templateID string) (*domain.GeneratedItem, error)
}

// App carries the handler dependencies.
type App struct {
	Runs      domain.RunRepository
	Items     domain.ItemRepository
	BulkRuns  domain.BulkRunRepository
	BulkRows  domain.BulkRowRepository
	BulkPins  domain.BulkPinRepository
	Templates domain.TemplateRepository
	Queue     TaskQueue
	Changer   TemplateChanger
	Store     *storage.FileStore
	Logger    zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]any{
		"error":   slug,
		"message": message,
	})
}

// currentUserID reads the authenticated user injected by the edge proxy.
func (a *App) currentUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}
