package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pinforge/internal/domain"
)

// RunRepositoryPG implements domain.RunRepository.
type RunRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewRunRepository creates a new run repository backed by PostgreSQL.
func NewRunRepository(pool *pgxpool.Pool) *RunRepositoryPG {
	return &RunRepositoryPG{pool: pool}
}

// Create inserts a new generation run record.
func (r *RunRepositoryPG) Create(ctx context.Context, run *domain.GenerationRun) error {
	query := `
INSERT INTO generation_runs (
	id, user_id, image_credential_id, keyword_credential_id, describe_credential_id,
	image_model, keyword_model, describe_model,
	quantity, width, height, seed_image_path, keyword_hints,
	describe_prompt_id, generate_prompt_id, keyword_prompt_id,
	template_ids, text_on_image, status
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19);
`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.UserID,
		run.ImageCredentialID,
		run.KeywordCredentialID,
		run.DescribeCredentialID,
		run.ImageModel,
		run.KeywordModel,
		run.DescribeModel,
		run.Quantity,
		run.Width,
		run.Height,
		run.SeedImagePath,
		run.KeywordHints,
		run.DescribePromptID,
		run.GeneratePromptID,
		run.KeywordPromptID,
		run.TemplateIDs,
		run.TextOnImage,
		run.Status,
	)
	return err
}

// GetByID fetches a generation run by its identifier.
func (r *RunRepositoryPG) GetByID(ctx context.Context, id string) (*domain.GenerationRun, error) {
	query := `
SELECT id, user_id, image_credential_id, keyword_credential_id, describe_credential_id,
       image_model, keyword_model, describe_model,
       quantity, width, height, seed_image_path, keyword_hints,
       describe_prompt_id, generate_prompt_id, keyword_prompt_id,
       template_ids, text_on_image, status, image_description, error_message,
       created_at, updated_at
FROM generation_runs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var run domain.GenerationRun
	if err := row.Scan(
		&run.ID,
		&run.UserID,
		&run.ImageCredentialID,
		&run.KeywordCredentialID,
		&run.DescribeCredentialID,
		&run.ImageModel,
		&run.KeywordModel,
		&run.DescribeModel,
		&run.Quantity,
		&run.Width,
		&run.Height,
		&run.SeedImagePath,
		&run.KeywordHints,
		&run.DescribePromptID,
		&run.GeneratePromptID,
		&run.KeywordPromptID,
		&run.TemplateIDs,
		&run.TextOnImage,
		&run.Status,
		&run.ImageDescription,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// MarkProcessing moves a pending run into PROCESSING.
func (r *RunRepositoryPG) MarkProcessing(ctx context.Context, id string) error {
	query := `
UPDATE generation_runs
SET status = 'PROCESSING', updated_at = NOW()
WHERE id = $1 AND status = 'PENDING';
`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// SetDescription stores the image description produced early in the run.
func (r *RunRepositoryPG) SetDescription(ctx context.Context, id, description string) error {
	query := `
UPDATE generation_runs
SET image_description = $2, updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, id, description)
	return err
}

// MarkCompleted finishes a processing run. Terminal runs are left untouched.
func (r *RunRepositoryPG) MarkCompleted(ctx context.Context, id string) error {
	query := `
UPDATE generation_runs
SET status = 'COMPLETED', updated_at = NOW()
WHERE id = $1 AND status = 'PROCESSING';
`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// MarkFailed fails a run unless it already reached a terminal state.
func (r *RunRepositoryPG) MarkFailed(ctx context.Context, id, errMsg string) error {
	query := `
UPDATE generation_runs
SET status = 'FAILED', error_message = $2, updated_at = NOW()
WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED');
`
	_, err := r.pool.Exec(ctx, query, id, errMsg)
	return err
}
