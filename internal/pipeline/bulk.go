package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"pinforge/internal/domain"
	"pinforge/internal/notify"
	"pinforge/internal/providers/chat"
	"pinforge/internal/providers/imagegen"
)

// ExecuteBulkRun drives a bulk run row by row. Rows are independent: a row
// failure increments the run's failed counter and the next row proceeds.
// Only setup failures (missing run or credentials) fail the run itself, so
// a bulk run with every row failed still finishes COMPLETED.
func (p *Pipeline) ExecuteBulkRun(ctx context.Context, runID string) error {
	log := p.deps.Logger.With().Str("bulk_run_id", runID).Logger()

	run, err := p.deps.BulkRuns.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("pipeline: load bulk run: %w", err)
	}
	if run.Status.Terminal() {
		log.Info().Str("status", string(run.Status)).Msg("pipeline: bulk run already terminal, skipping")
		return nil
	}
	if err := p.deps.BulkRuns.MarkProcessing(ctx, runID); err != nil {
		return fmt.Errorf("pipeline: mark bulk processing: %w", err)
	}

	setup, err := p.loadBulkSetup(ctx, run)
	if err != nil {
		return p.failBulkRun(ctx, run, err)
	}

	rows, err := p.deps.BulkRows.ListPending(ctx, runID)
	if err != nil {
		return p.failBulkRun(ctx, run, fmt.Errorf("list rows: %w", err))
	}

	for i := range rows {
		row := &rows[i]
		if err := p.processBulkRow(ctx, run, setup, row); err != nil {
			log.Warn().Err(err).Str("row_id", row.ID).Int("position", row.Position).Msg("pipeline: bulk row failed")
			if markErr := p.deps.BulkRows.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
				log.Error().Err(markErr).Str("row_id", row.ID).Msg("pipeline: failed to mark row failed")
			}
			if incErr := p.deps.BulkRuns.IncrementFailedRows(ctx, runID); incErr != nil {
				log.Error().Err(incErr).Msg("pipeline: failed to increment failed rows")
			}
			continue
		}
		if err := p.deps.BulkRuns.IncrementCompletedRows(ctx, runID); err != nil {
			log.Error().Err(err).Msg("pipeline: failed to increment completed rows")
		}
	}

	if err := p.deps.BulkRuns.MarkCompleted(ctx, runID); err != nil {
		return fmt.Errorf("pipeline: mark bulk completed: %w", err)
	}
	log.Info().Int("rows", len(rows)).Msg("pipeline: bulk run completed")
	p.notify(ctx, run.UserID, notify.Notification{
		Title: "Bulk pin generation complete",
		Body:  fmt.Sprintf("%d rows processed", len(rows)),
		URL:   "/bulk-runs/" + run.ID,
		Tag:   "bulk-" + run.ID,
	})
	return nil
}

type bulkSetup struct {
	imageCred    *domain.Credential
	keywordCred  *domain.Credential
	describeCred *domain.Credential
	generator    imagegen.Generator
}

func (p *Pipeline) loadBulkSetup(ctx context.Context, run *domain.BulkRun) (*bulkSetup, error) {
	var s bulkSetup
	var err error

	if s.imageCred, err = p.credential(ctx, run.ImageCredentialID, ""); err != nil {
		return nil, fmt.Errorf("image credential: %w", err)
	}
	if s.keywordCred, err = p.credential(ctx, run.KeywordCredentialID, run.ImageCredentialID); err != nil {
		return nil, fmt.Errorf("keyword credential: %w", err)
	}
	if s.describeCred, err = p.credential(ctx, run.DescribeCredentialID, run.KeywordCredentialID); err != nil {
		return nil, fmt.Errorf("describe credential: %w", err)
	}
	if s.generator, err = p.deps.NewGenerator(*s.imageCred); err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	return &s, nil
}

// rowDiagnostics captures per-row API notes for the run detail view.
type rowDiagnostics struct {
	Notes         []string `json:"notes"`
	CompletedPins int      `json:"completedPins"`
	FailedPins    int      `json:"failedPins"`
}

func (p *Pipeline) processBulkRow(ctx context.Context, run *domain.BulkRun, setup *bulkSetup, row *domain.BulkRow) error {
	if err := p.deps.BulkRows.MarkProcessing(ctx, row.ID); err != nil {
		return fmt.Errorf("mark row processing: %w", err)
	}
	diag := rowDiagnostics{Notes: []string{}}
	defer p.storeDiagnostics(ctx, row.ID, &diag)

	// The source image is fetched up front so a dead URL fails the row
	// before any provider spend.
	var sourceData []byte
	if row.SourceImageURL != "" {
		var err error
		sourceData, err = p.deps.Download(ctx, row.SourceImageURL)
		if err != nil {
			diag.Notes = append(diag.Notes, fmt.Sprintf("source image fetch failed: %v", err))
			return fmt.Errorf("fetch source image: %w", err)
		}
		diag.Notes = append(diag.Notes, "source image fetched")
	}

	description := chat.FallbackDescription
	if sourceData != nil {
		description = p.deps.Chat.DescribeImage(ctx, *setup.describeCred, run.DescribeModel, sourceData, "image/jpeg",
			"Describe this image in two or three sentences, focusing on subject, mood, and style.")
		diag.Notes = append(diag.Notes, "image described")
	}

	variants := p.deps.Chat.ExpandKeywords(ctx, *setup.keywordCred, run.KeywordModel, chat.ExpandRequest{
		Keywords:         row.Keywords,
		ImageDescription: description,
		Count:            row.Quantity,
	})
	diag.Notes = append(diag.Notes, fmt.Sprintf("%d variants expanded", len(variants)))

	for i := 0; i < row.Quantity; i++ {
		variant := variants[i%len(variants)]
		if err := p.generateBulkPin(ctx, run, setup, row, variant, description, i); err != nil {
			p.deps.Logger.Warn().Err(err).Str("row_id", row.ID).Int("index", i).Msg("pipeline: bulk pin failed")
			diag.Notes = append(diag.Notes, fmt.Sprintf("pin %d failed: %v", i, err))
			diag.FailedPins++
			p.recordFailedPin(ctx, row.ID, variant)
			if incErr := p.deps.BulkRows.IncrementFailedPins(ctx, row.ID); incErr != nil {
				p.deps.Logger.Error().Err(incErr).Str("row_id", row.ID).Msg("pipeline: failed to increment failed pins")
			}
			continue
		}
		diag.CompletedPins++
		if err := p.deps.BulkRows.IncrementCompletedPins(ctx, row.ID); err != nil {
			p.deps.Logger.Error().Err(err).Str("row_id", row.ID).Msg("pipeline: failed to increment completed pins")
		}
	}

	if err := p.deps.BulkRows.MarkCompleted(ctx, row.ID); err != nil {
		return fmt.Errorf("mark row completed: %w", err)
	}
	return nil
}

func (p *Pipeline) generateBulkPin(ctx context.Context, run *domain.BulkRun, setup *bulkSetup, row *domain.BulkRow, variant domain.PinVariant, description string, index int) error {
	prompt := buildImagePrompt("", variant, description, false)

	imageURL, err := setup.generator.Generate(ctx, imagegen.Request{
		Prompt: prompt,
		Model:  run.ImageModel,
		Width:  run.Width,
		Height: run.Height,
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	data, err := p.deps.Download(ctx, imageURL)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	localKey, err := p.deps.Store.Write(ctx, fmt.Sprintf("bulk/%s/%s/pin-%d-%s.png", run.ID, row.ID, index, uuid.NewString()), data)
	if err != nil {
		return fmt.Errorf("store image: %w", err)
	}

	altText := p.deps.Chat.GenerateAltText(ctx, *setup.describeCred, run.DescribeModel, imageURL, variant.Title)

	pin := &domain.BulkPin{
		ID:             uuid.NewString(),
		RowID:          row.ID,
		ImageURL:       imageURL,
		LocalImagePath: localKey,
		Title:          variant.Title,
		Description:    variant.Description,
		Keywords:       variant.Keywords,
		AltText:        altText,
		Status:         domain.ItemStatusCompleted,
	}
	if err := p.deps.BulkPins.Create(ctx, pin); err != nil {
		return fmt.Errorf("persist pin: %w", err)
	}
	return nil
}

func (p *Pipeline) recordFailedPin(ctx context.Context, rowID string, variant domain.PinVariant) {
	pin := &domain.BulkPin{
		ID:       uuid.NewString(),
		RowID:    rowID,
		Title:    variant.Title,
		Keywords: variant.Keywords,
		Status:   domain.ItemStatusFailed,
	}
	if err := p.deps.BulkPins.Create(ctx, pin); err != nil {
		p.deps.Logger.Error().Err(err).Str("row_id", rowID).Msg("pipeline: failed to persist failed pin")
	}
}

func (p *Pipeline) storeDiagnostics(ctx context.Context, rowID string, diag *rowDiagnostics) {
	payload, err := json.Marshal(diag)
	if err != nil {
		p.deps.Logger.Error().Err(err).Str("row_id", rowID).Msg("pipeline: failed to encode diagnostics")
		return
	}
	if err := p.deps.BulkRows.SetDiagnostics(ctx, rowID, payload); err != nil {
		p.deps.Logger.Warn().Err(err).Str("row_id", rowID).Msg("pipeline: failed to store diagnostics")
	}
}

func (p *Pipeline) failBulkRun(ctx context.Context, run *domain.BulkRun, cause error) error {
	p.deps.Logger.Error().Err(cause).Str("bulk_run_id", run.ID).Msg("pipeline: bulk run failed")
	if err := p.deps.BulkRuns.MarkFailed(ctx, run.ID, cause.Error()); err != nil {
		p.deps.Logger.Error().Err(err).Str("bulk_run_id", run.ID).Msg("pipeline: failed to mark bulk run failed")
	}
	p.notify(ctx, run.UserID, notify.Notification{
		Title: "Bulk pin generation failed",
		Body:  cause.Error(),
		URL:   "/bulk-runs/" + run.ID,
		Tag:   "bulk-" + run.ID,
	})
	return fmt.Errorf("pipeline: bulk run %s: %w", run.ID, cause)
}
