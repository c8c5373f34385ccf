package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pinforge/internal/domain"
)

const maxBulkRows = 200

type bulkRowRequest struct {
	Keywords       string `json:"keywords"`
	SourceImageURL string `json:"source_image_url"`
	Quantity       int    `json:"quantity"`
}

type createBulkRunRequest struct {
	ImageCredentialID    string           `json:"image_credential_id"`
	KeywordCredentialID  string           `json:"keyword_credential_id"`
	DescribeCredentialID string           `json:"describe_credential_id"`
	ImageModel           string           `json:"image_model"`
	KeywordModel         string           `json:"keyword_model"`
	DescribeModel        string           `json:"describe_model"`
	Width                int              `json:"width"`
	Height               int              `json:"height"`
	Rows                 []bulkRowRequest `json:"rows"`
}

// CreateBulkRun persists the run with all its rows, then queues it.
func (a *App) CreateBulkRun(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createBulkRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.ImageCredentialID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "image_credential_id required")
		return
	}
	if len(req.Rows) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "at least one row required")
		return
	}
	if len(req.Rows) > maxBulkRows {
		a.error(w, http.StatusBadRequest, "bad_request", "too many rows")
		return
	}
	if req.Width <= 0 {
		req.Width = defaultPinWidth
	}
	if req.Height <= 0 {
		req.Height = defaultPinHeight
	}

	run := &domain.BulkRun{
		ID:                   uuid.NewString(),
		UserID:               userID,
		ImageCredentialID:    req.ImageCredentialID,
		KeywordCredentialID:  req.KeywordCredentialID,
		DescribeCredentialID: req.DescribeCredentialID,
		ImageModel:           req.ImageModel,
		KeywordModel:         req.KeywordModel,
		DescribeModel:        req.DescribeModel,
		Width:                req.Width,
		Height:               req.Height,
		TotalRows:            len(req.Rows),
		Status:               domain.RunStatusPending,
	}
	rows := make([]domain.BulkRow, 0, len(req.Rows))
	for i, rowReq := range req.Rows {
		quantity := rowReq.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		if quantity > maxRunQuantity {
			quantity = maxRunQuantity
		}
		rows = append(rows, domain.BulkRow{
			ID:             uuid.NewString(),
			RunID:          run.ID,
			Keywords:       rowReq.Keywords,
			SourceImageURL: rowReq.SourceImageURL,
			Quantity:       quantity,
			Status:         domain.RunStatusPending,
			Position:       i,
		})
	}

	if err := a.BulkRuns.Create(r.Context(), run); err != nil {
		a.Logger.Error().Err(err).Msg("create bulk run failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to persist run")
		return
	}
	if err := a.BulkRows.CreateAll(r.Context(), rows); err != nil {
		a.Logger.Error().Err(err).Str("bulk_run_id", run.ID).Msg("create bulk rows failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to persist rows")
		return
	}
	if err := a.Queue.EnqueueBulkRun(r.Context(), run.ID); err != nil {
		a.Logger.Error().Err(err).Str("bulk_run_id", run.ID).Msg("enqueue bulk run failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue run")
		return
	}
	a.json(w, http.StatusAccepted, runResponse{ID: run.ID, Status: string(run.Status)})
}

type bulkRowDTO struct {
	ID             string          `json:"id"`
	Keywords       string          `json:"keywords"`
	SourceImageURL string          `json:"source_image_url,omitempty"`
	Quantity       int             `json:"quantity"`
	CompletedPins  int             `json:"completed_pins"`
	FailedPins     int             `json:"failed_pins"`
	Status         string          `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Diagnostics    json.RawMessage `json:"diagnostics,omitempty"`
	Position       int             `json:"position"`
	CreatedAt      time.Time       `json:"created_at"`
}

// GetBulkRun returns a bulk run with its rows and counters.
func (a *App) GetBulkRun(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	run, ok := a.loadBulkRunForUser(w, r, userID)
	if !ok {
		return
	}
	rows, err := a.BulkRows.ListByRunID(r.Context(), run.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("bulk_run_id", run.ID).Msg("list rows failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load rows")
		return
	}
	dtos := make([]bulkRowDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, bulkRowDTO{
			ID:             row.ID,
			Keywords:       row.Keywords,
			SourceImageURL: row.SourceImageURL,
			Quantity:       row.Quantity,
			CompletedPins:  row.CompletedPins,
			FailedPins:     row.FailedPins,
			Status:         string(row.Status),
			ErrorMessage:   row.ErrorMessage,
			Diagnostics:    json.RawMessage(row.Diagnostics),
			Position:       row.Position,
			CreatedAt:      row.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":             run.ID,
		"status":         run.Status,
		"total_rows":     run.TotalRows,
		"completed_rows": run.CompletedRows,
		"failed_rows":    run.FailedRows,
		"error_message":  run.ErrorMessage,
		"created_at":     run.CreatedAt,
		"updated_at":     run.UpdatedAt,
		"rows":           dtos,
	})
}

// GetBulkRowPins returns the generated pins of one row.
func (a *App) GetBulkRowPins(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	run, ok := a.loadBulkRunForUser(w, r, userID)
	if !ok {
		return
	}
	rowID := chi.URLParam(r, "rowID")
	rows, err := a.BulkRows.ListByRunID(r.Context(), run.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("bulk_run_id", run.ID).Msg("list rows failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load rows")
		return
	}
	found := false
	for _, row := range rows {
		if row.ID == rowID {
			found = true
			break
		}
	}
	if !found {
		a.error(w, http.StatusNotFound, "not_found", "row not found")
		return
	}
	pins, err := a.BulkPins.ListByRowID(r.Context(), rowID)
	if err != nil {
		a.Logger.Error().Err(err).Str("row_id", rowID).Msg("list pins failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load pins")
		return
	}
	items := make([]map[string]any, 0, len(pins))
	for _, pin := range pins {
		entry := map[string]any{
			"id":          pin.ID,
			"title":       pin.Title,
			"description": pin.Description,
			"keywords":    pin.Keywords,
			"alt_text":    pin.AltText,
			"status":      pin.Status,
			"image_url":   pin.ImageURL,
			"created_at":  pin.CreatedAt,
		}
		if pin.LocalImagePath != "" {
			entry["local_image_url"] = a.Store.PublicURL(pin.LocalImagePath)
		}
		items = append(items, entry)
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) loadBulkRunForUser(w http.ResponseWriter, r *http.Request, userID string) (*domain.BulkRun, bool) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "run id required")
		return nil, false
	}
	run, err := a.BulkRuns.GetByID(r.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "run not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Str("bulk_run_id", runID).Msg("load bulk run failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load run")
		return nil, false
	}
	if run.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "run not found")
		return nil, false
	}
	return run, true
}
