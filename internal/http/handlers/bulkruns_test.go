package handlers

import (
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
)

type memBulkRuns struct {
	runs map[string]*domain.BulkRun
}

func (r *memBulkRuns) Create(_ context.Context, run *domain.BulkRun) error {
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *memBulkRuns) GetByID(_ context.Context, id string) (*domain.BulkRun, error) {
	if run, ok := r.runs[id]; ok {
		cp := *run
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memBulkRuns) MarkProcessing(context.Context, string) error         { return nil }
func (r *memBulkRuns) MarkCompleted(context.Context, string) error          { return nil }
func (r *memBulkRuns) MarkFailed(context.Context, string, string) error     { return nil }
func (r *memBulkRuns) IncrementCompletedRows(context.Context, string) error { return nil }
func (r *memBulkRuns) IncrementFailedRows(context.Context, string) error    { return nil }

type memBulkRows struct {
	rows []domain.BulkRow
}

func (r *memBulkRows) CreateAll(_ context.Context, rows []domain.BulkRow) error {
	r.rows = append(r.rows, rows...)
	return nil
}

func (r *memBulkRows) ListPending(_ context.Context, runID string) ([]domain.BulkRow, error) {
	return r.ListByRunID(context.Background(), runID)
}

func (r *memBulkRows) ListByRunID(_ context.Context, runID string) ([]domain.BulkRow, error) {
	var out []domain.BulkRow
	for _, row := range r.rows {
		if row.RunID == runID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memBulkRows) MarkProcessing(context.Context, string) error         { return nil }
func (r *memBulkRows) MarkCompleted(context.Context, string) error          { return nil }
func (r *memBulkRows) MarkFailed(context.Context, string, string) error     { return nil }
func (r *memBulkRows) IncrementCompletedPins(context.Context, string) error { return nil }
func (r *memBulkRows) IncrementFailedPins(context.Context, string) error    { return nil }
func (r *memBulkRows) SetDiagnostics(context.Context, string, []byte) error { return nil }

type memBulkPins struct {
	pins []domain.BulkPin
}

func (r *memBulkPins) Create(_ context.Context, pin *domain.BulkPin) error {
	r.pins = append(r.pins, *pin)
	return nil
}

func (r *memBulkPins) ListByRowID(_ context.Context, rowID string) ([]domain.BulkPin, error) {
	var out []domain.BulkPin
	for _, pin := range r.pins {
		if pin.RowID == rowID {
			out = append(out, pin)
		}
	}
	return out, nil
}

func newBulkTestApp(t *testing.T) (*App, *memBulkRuns, *memBulkRows, *memBulkPins, *fakeQueue) {
	t.Helper()
	app, _, _, queue := newTestApp(t)
	bulkRuns := &memBulkRuns{runs: map[string]*domain.BulkRun{}}
	bulkRows := &memBulkRows{}
	bulkPins := &memBulkPins{}
	app.BulkRuns = bulkRuns
	app.BulkRows = bulkRows
	app.BulkPins = bulkPins
	app.Logger = zerolog.New(io.Discard)
	return app, bulkRuns, bulkRows, bulkPins, queue
}

func doBulkRequest(app *App, method, path, userID, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/api/bulk-runs", app.CreateBulkRun)
	r.Get("/api/bulk-runs/{id}", app.GetBulkRun)
	r.Get("/api/bulk-runs/{id}/rows/{rowID}/pins", app.GetBulkRowPins)

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

func TestCreateBulkRunPersistsRows(t *testing.T) {
	app, bulkRuns, bulkRows, _, queue := newBulkTestApp(t)

	rec := doBulkRequest(app, http.MethodPost, "/api/bulk-runs", "user-1", `{
		"image_credential_id": "cred-1",
		"rows": [
			{"keywords": "fall decor", "quantity": 2},
			{"keywords": "winter table", "source_image_url": "https://src.test/a.jpg"}
		]
	}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp runResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	run := bulkRuns.runs[resp.ID]
	if run == nil || run.TotalRows != 2 {
		t.Fatalf("run not persisted with row count: %+v", run)
	}
	rows, _ := bulkRows.ListByRunID(context.Background(), resp.ID)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1].Quantity != 1 {
		t.Fatalf("default row quantity not applied: %d", rows[1].Quantity)
	}
	if rows[0].Position != 0 || rows[1].Position != 1 {
		t.Fatalf("positions %d %d", rows[0].Position, rows[1].Position)
	}
	if len(queue.bulkRuns) != 1 || queue.bulkRuns[0] != resp.ID {
		t.Fatalf("bulk run not queued: %v", queue.bulkRuns)
	}
}

func TestCreateBulkRunRequiresRows(t *testing.T) {
	app, _, _, _, _ := newBulkTestApp(t)

	rec := doBulkRequest(app, http.MethodPost, "/api/bulk-runs", "user-1",
		`{"image_credential_id": "cred-1", "rows": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty rows, got %d", rec.Code)
	}
}

func TestGetBulkRunIncludesDiagnostics(t *testing.T) {
	app, bulkRuns, bulkRows, _, _ := newBulkTestApp(t)
	bulkRuns.Create(context.Background(), &domain.BulkRun{
		ID: "bulk-1", UserID: "user-1", TotalRows: 1, CompletedRows: 1,
		Status: domain.RunStatusCompleted,
	})
	bulkRows.CreateAll(context.Background(), []domain.BulkRow{{
		ID: "row-1", RunID: "bulk-1", Keywords: "fall decor",
		Status: domain.RunStatusCompleted, CompletedPins: 2,
		Diagnostics: []byte(`{"notes":["image described"]}`),
	}})

	rec := doBulkRequest(app, http.MethodGet, "/api/bulk-runs/bulk-1", "user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Rows []bulkRowDTO `json:"rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(resp.Rows))
	}
	if !strings.Contains(string(resp.Rows[0].Diagnostics), "image described") {
		t.Fatalf("diagnostics missing: %s", resp.Rows[0].Diagnostics)
	}
}

func TestGetBulkRowPins(t *testing.T) {
	app, bulkRuns, bulkRows, bulkPins, _ := newBulkTestApp(t)
	bulkRuns.Create(context.Background(), &domain.BulkRun{
		ID: "bulk-1", UserID: "user-1", Status: domain.RunStatusCompleted,
	})
	bulkRows.CreateAll(context.Background(), []domain.BulkRow{{
		ID: "row-1", RunID: "bulk-1", Status: domain.RunStatusCompleted,
	}})
	bulkPins.Create(context.Background(), &domain.BulkPin{
		ID: "pin-1", RowID: "row-1", Title: "Cozy Fall", AltText: "Alt text",
		Status: domain.ItemStatusCompleted,
	})

	rec := doBulkRequest(app, http.MethodGet, "/api/bulk-runs/bulk-1/rows/row-1/pins", "user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 1 || resp.Items[0]["title"] != "Cozy Fall" {
		t.Fatalf("unexpected pins %s", rec.Body.String())
	}
}

func TestGetBulkRowPinsRejectsForeignRow(t *testing.T) {
	app, bulkRuns, bulkRows, bulkPins, _ := newBulkTestApp(t)
	bulkRuns.Create(context.Background(), &domain.BulkRun{
		ID: "bulk-1", UserID: "user-1", Status: domain.RunStatusCompleted,
	})
	bulkRuns.Create(context.Background(), &domain.BulkRun{
		ID: "bulk-2", UserID: "user-2", Status: domain.RunStatusCompleted,
	})
	bulkRows.CreateAll(context.Background(), []domain.BulkRow{{
		ID: "row-2", RunID: "bulk-2", Status: domain.RunStatusCompleted,
	}})
	bulkPins.Create(context.Background(), &domain.BulkPin{
		ID: "pin-2", RowID: "row-2", Status: domain.ItemStatusCompleted,
	})

	rec := doBulkRequest(app, http.MethodGet, "/api/bulk-runs/bulk-1/rows/row-2/pins", "user-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another run's row, got %d: %s", rec.Code, rec.Body.String())
	}
}
