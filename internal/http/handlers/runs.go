package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pinforge/internal/domain"
	"pinforge/pkg/zip"
)

const (
	defaultPinWidth  = 1000
	defaultPinHeight = 1500
	maxRunQuantity   = 20
)

type createRunRequest struct {
	ImageCredentialID    string   `json:"image_credential_id"`
	KeywordCredentialID  string   `json:"keyword_credential_id"`
	DescribeCredentialID string   `json:"describe_credential_id"`
	ImageModel           string   `json:"image_model"`
	KeywordModel         string   `json:"keyword_model"`
	DescribeModel        string   `json:"describe_model"`
	Quantity             int      `json:"quantity"`
	Width                int      `json:"width"`
	Height               int      `json:"height"`
	SeedImagePath        string   `json:"seed_image_path"`
	KeywordHints         string   `json:"keyword_hints"`
	DescribePromptID     string   `json:"describe_prompt_id"`
	GeneratePromptID     string   `json:"generate_prompt_id"`
	KeywordPromptID      string   `json:"keyword_prompt_id"`
	TemplateIDs          []string `json:"template_ids"`
	TextOnImage          bool     `json:"text_on_image"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateRun persists a pending run and hands it to the worker queue.
func (a *App) CreateRun(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.ImageCredentialID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "image_credential_id required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	if req.Quantity > maxRunQuantity {
		req.Quantity = maxRunQuantity
	}
	if req.Width <= 0 {
		req.Width = defaultPinWidth
	}
	if req.Height <= 0 {
		req.Height = defaultPinHeight
	}

	run := &domain.GenerationRun{
		ID:                   uuid.NewString(),
		UserID:               userID,
		ImageCredentialID:    req.ImageCredentialID,
		KeywordCredentialID:  req.KeywordCredentialID,
		DescribeCredentialID: req.DescribeCredentialID,
		ImageModel:           req.ImageModel,
		KeywordModel:         req.KeywordModel,
		DescribeModel:        req.DescribeModel,
		Quantity:             req.Quantity,
		Width:                req.Width,
		Height:               req.Height,
		SeedImagePath:        req.SeedImagePath,
		KeywordHints:         req.KeywordHints,
		DescribePromptID:     req.DescribePromptID,
		GeneratePromptID:     req.GeneratePromptID,
		KeywordPromptID:      req.KeywordPromptID,
		TemplateIDs:          req.TemplateIDs,
		TextOnImage:          req.TextOnImage,
		Status:               domain.RunStatusPending,
	}
	if err := a.Runs.Create(r.Context(), run); err != nil {
		a.Logger.Error().Err(err).Msg("create run failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to persist run")
		return
	}
	if err := a.Queue.EnqueueRun(r.Context(), run.ID); err != nil {
		a.Logger.Error().Err(err).Str("run_id", run.ID).Msg("enqueue run failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue run")
		return
	}
	a.json(w, http.StatusAccepted, runResponse{ID: run.ID, Status: string(run.Status)})
}

type itemDTO struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Keywords      []string  `json:"keywords"`
	TemplateID    string    `json:"template_id,omitempty"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	RawImageURL   string    `json:"raw_image_url,omitempty"`
	FinalImageURL string    `json:"final_image_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// GetRun returns a run and its items.
func (a *App) GetRun(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	run, ok := a.loadRunForUser(w, r, userID)
	if !ok {
		return
	}
	items, err := a.Items.ListByRunID(r.Context(), run.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("run_id", run.ID).Msg("list items failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load items")
		return
	}
	dtos := make([]itemDTO, 0, len(items))
	for _, item := range items {
		dto := itemDTO{
			ID:           item.ID,
			Title:        item.Title,
			Description:  item.Description,
			Keywords:     item.Keywords,
			TemplateID:   item.TemplateID,
			Status:       string(item.Status),
			ErrorMessage: item.ErrorMessage,
			CreatedAt:    item.CreatedAt,
		}
		if item.RawImagePath != "" {
			dto.RawImageURL = a.Store.PublicURL(item.RawImagePath)
		}
		if item.FinalImagePath != "" {
			dto.FinalImageURL = a.Store.PublicURL(item.FinalImagePath)
		}
		dtos = append(dtos, dto)
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":                run.ID,
		"status":            run.Status,
		"quantity":          run.Quantity,
		"width":             run.Width,
		"height":            run.Height,
		"keyword_hints":     run.KeywordHints,
		"image_description": run.ImageDescription,
		"error_message":     run.ErrorMessage,
		"created_at":        run.CreatedAt,
		"updated_at":        run.UpdatedAt,
		"items":             dtos,
	})
}

type changeTemplateRequest struct {
	TemplateID string `json:"template_id"`
}

// ChangeItemTemplate swaps the template of a finished item.
func (a *App) ChangeItemTemplate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	run, ok := a.loadRunForUser(w, r, userID)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")
	var req changeTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TemplateID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "template_id required")
		return
	}

	// The swap deletes the old final image, so ownership is verified first.
	existing, err := a.Items.GetByID(r.Context(), itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		a.Logger.Error().Err(err).Str("item_id", itemID).Msg("load item failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load item")
		return
	}
	if existing.RunID != run.ID {
		a.error(w, http.StatusNotFound, "not_found", "item not found")
		return
	}

	item, err := a.Changer.ChangeTemplate(r.Context(), itemID, req.TemplateID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "item or template not found")
		case errors.Is(err, domain.ErrItemNotFinished):
			a.error(w, http.StatusConflict, "item_not_finished", "only completed items can be re-templated")
		default:
			a.Logger.Error().Err(err).Str("item_id", itemID).Msg("change template failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to change template")
		}
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":              item.ID,
		"template_id":     item.TemplateID,
		"final_image_url": a.Store.PublicURL(item.FinalImagePath),
	})
}

// ExportRun streams a zip archive of the run's finished pins.
func (a *App) ExportRun(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	run, ok := a.loadRunForUser(w, r, userID)
	if !ok {
		return
	}
	items, err := a.Items.ListByRunID(r.Context(), run.ID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load items")
		return
	}
	var assets []zip.Asset
	for i, item := range items {
		if item.Status != domain.ItemStatusCompleted || item.FinalImagePath == "" {
			continue
		}
		data, err := a.Store.Read(r.Context(), item.FinalImagePath)
		if err != nil {
			a.Logger.Warn().Err(err).Str("item_id", item.ID).Msg("export: final image unreadable")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("pin-%02d-%s.png", i+1, item.ID),
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no finished pins to export")
		return
	}
	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=run-%s.zip", run.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) loadRunForUser(w http.ResponseWriter, r *http.Request, userID string) (*domain.GenerationRun, bool) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "run id required")
		return nil, false
	}
	run, err := a.Runs.GetByID(r.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "run not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Str("run_id", runID).Msg("load run failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load run")
		return nil, false
	}
	if run.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "run not found")
		return nil, false
	}
	return run, true
}
