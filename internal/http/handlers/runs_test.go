package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pinforge/internal/domain"
	"pinforge/internal/storage"
)

type memRuns struct {
	runs map[string]*domain.GenerationRun
}

func (r *memRuns) Create(_ context.Context, run *domain.GenerationRun) error {
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *memRuns) GetByID(_ context.Context, id string) (*domain.GenerationRun, error) {
	if run, ok := r.runs[id]; ok {
		cp := *run
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memRuns) MarkProcessing(context.Context, string) error         { return nil }
func (r *memRuns) SetDescription(context.Context, string, string) error { return nil }
func (r *memRuns) MarkCompleted(context.Context, string) error          { return nil }
func (r *memRuns) MarkFailed(context.Context, string, string) error     { return nil }

type memItems struct {
	items []domain.GeneratedItem
}

func (r *memItems) Create(_ context.Context, item *domain.GeneratedItem) error {
	r.items = append(r.items, *item)
	return nil
}

func (r *memItems) GetByID(_ context.Context, id string) (*domain.GeneratedItem, error) {
	for i := range r.items {
		if r.items[i].ID == id {
			cp := r.items[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memItems) ListByRunID(_ context.Context, runID string) ([]domain.GeneratedItem, error) {
	var out []domain.GeneratedItem
	for _, item := range r.items {
		if item.RunID == runID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *memItems) ReplaceTemplate(context.Context, string, string, string) error { return nil }

type fakeQueue struct {
	runs     []string
	bulkRuns []string
}

func (q *fakeQueue) EnqueueRun(_ context.Context, runID string) error {
	q.runs = append(q.runs, runID)
	return nil
}

func (q *fakeQueue) EnqueueBulkRun(_ context.Context, runID string) error {
	q.bulkRuns = append(q.bulkRuns, runID)
	return nil
}

type fakeChanger struct {
	item  *domain.GeneratedItem
	err   error
	calls int
}

func (c *fakeChanger) ChangeTemplate(context.Context, string, string) (*domain.GeneratedItem, error) {
	c.calls++
	return c.item, c.err
}

func newTestApp(t *testing.T) (*App, *memRuns, *memItems, *fakeQueue) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatal(err)
	}
	runs := &memRuns{runs: map[string]*domain.GenerationRun{}}
	items := &memItems{}
	queue := &fakeQueue{}
	app := &App{
		Runs:    runs,
		Items:   items,
		Queue:   queue,
		Changer: &fakeChanger{},
		Store:   store,
		Logger:  zerolog.New(io.Discard),
	}
	return app, runs, items, queue
}

func doRequest(app *App, method, path, userID string, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/api/runs", app.CreateRun)
	r.Get("/api/runs/{id}", app.GetRun)
	r.Get("/api/runs/{id}/export", app.ExportRun)
	r.Post("/api/runs/{id}/items/{itemID}/template", app.ChangeItemTemplate)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateRunAcceptedAndQueued(t *testing.T) {
	app, runs, _, queue := newTestApp(t)

	rec := doRequest(app, http.MethodPost, "/api/runs", "user-1",
		`{"image_credential_id":"cred-1","quantity":5,"keyword_hints":"fall decor"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp runResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "PENDING" {
		t.Fatalf("status %q", resp.Status)
	}
	run, ok := runs.runs[resp.ID]
	if !ok {
		t.Fatal("run not persisted")
	}
	if run.Width != defaultPinWidth || run.Height != defaultPinHeight {
		t.Fatalf("defaults not applied: %dx%d", run.Width, run.Height)
	}
	if len(queue.runs) != 1 || queue.runs[0] != resp.ID {
		t.Fatalf("run not queued: %v", queue.runs)
	}
}

func TestCreateRunValidation(t *testing.T) {
	app, _, _, _ := newTestApp(t)

	rec := doRequest(app, http.MethodPost, "/api/runs", "user-1", `{"quantity":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing credential, got %d", rec.Code)
	}

	rec = doRequest(app, http.MethodPost, "/api/runs", "", `{"image_credential_id":"c"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rec.Code)
	}
}

func TestCreateRunCapsQuantity(t *testing.T) {
	app, runs, _, _ := newTestApp(t)

	rec := doRequest(app, http.MethodPost, "/api/runs", "user-1",
		`{"image_credential_id":"cred-1","quantity":500}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}
	var resp runResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if runs.runs[resp.ID].Quantity != maxRunQuantity {
		t.Fatalf("quantity %d, want cap %d", runs.runs[resp.ID].Quantity, maxRunQuantity)
	}
}

func TestGetRunWithItems(t *testing.T) {
	app, runs, items, _ := newTestApp(t)
	runs.Create(context.Background(), &domain.GenerationRun{
		ID: "run-1", UserID: "user-1", Quantity: 2, Status: domain.RunStatusCompleted,
	})
	items.Create(context.Background(), &domain.GeneratedItem{
		ID: "item-1", RunID: "run-1", Title: "Cozy Fall", FinalImagePath: "runs/run-1/final.png",
		Status: domain.ItemStatusCompleted,
	})

	rec := doRequest(app, http.MethodGet, "/api/runs/run-1", "user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Status string    `json:"status"`
		Items  []itemDTO `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "COMPLETED" || len(resp.Items) != 1 {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}
	if !strings.HasPrefix(resp.Items[0].FinalImageURL, "http://localhost:8080/files/") {
		t.Fatalf("final image url %q", resp.Items[0].FinalImageURL)
	}
}

func TestGetRunHidesOtherUsers(t *testing.T) {
	app, runs, _, _ := newTestApp(t)
	runs.Create(context.Background(), &domain.GenerationRun{
		ID: "run-1", UserID: "user-1", Status: domain.RunStatusCompleted,
	})

	rec := doRequest(app, http.MethodGet, "/api/runs/run-1", "user-2", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign run, got %d", rec.Code)
	}
}

func TestChangeItemTemplateConflict(t *testing.T) {
	app, runs, items, _ := newTestApp(t)
	runs.Create(context.Background(), &domain.GenerationRun{
		ID: "run-1", UserID: "user-1", Status: domain.RunStatusCompleted,
	})
	items.Create(context.Background(), &domain.GeneratedItem{
		ID: "item-1", RunID: "run-1", Status: domain.ItemStatusFailed,
	})
	app.Changer = &fakeChanger{err: domain.ErrItemNotFinished}

	rec := doRequest(app, http.MethodPost, "/api/runs/run-1/items/item-1/template", "user-1",
		`{"template_id":"tmpl-2"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestChangeItemTemplateForeignItemNotSwapped(t *testing.T) {
	app, runs, items, _ := newTestApp(t)
	runs.Create(context.Background(), &domain.GenerationRun{
		ID: "run-1", UserID: "user-1", Status: domain.RunStatusCompleted,
	})
	runs.Create(context.Background(), &domain.GenerationRun{
		ID: "run-2", UserID: "user-2", Status: domain.RunStatusCompleted,
	})
	items.Create(context.Background(), &domain.GeneratedItem{
		ID: "item-2", RunID: "run-2", Status: domain.ItemStatusCompleted,
	})
	changer := &fakeChanger{}
	app.Changer = changer

	rec := doRequest(app, http.MethodPost, "/api/runs/run-1/items/item-2/template", "user-1",
		`{"template_id":"tmpl-2"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another run's item, got %d: %s", rec.Code, rec.Body.String())
	}
	if changer.calls != 0 {
		t.Fatalf("template swap ran %d times for a foreign item", changer.calls)
	}
}

func TestExportRunArchivesCompletedItems(t *testing.T) {
	app, runs, items, _ := newTestApp(t)
	runs.Create(context.Background(), &domain.GenerationRun{
		ID: "run-1", UserID: "user-1", Status: domain.RunStatusCompleted,
	})
	key, err := app.Store.Write(context.Background(), "runs/run-1/final.png", []byte("pngbytes"))
	if err != nil {
		t.Fatal(err)
	}
	items.Create(context.Background(), &domain.GeneratedItem{
		ID: "item-1", RunID: "run-1", FinalImagePath: key, Status: domain.ItemStatusCompleted,
	})
	items.Create(context.Background(), &domain.GeneratedItem{
		ID: "item-2", RunID: "run-1", Status: domain.ItemStatusFailed,
	})

	rec := doRequest(app, http.MethodGet, "/api/runs/run-1/export", "user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type %q", ct)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 1 {
		t.Fatalf("expected 1 archived pin, got %d", len(zr.File))
	}
}
