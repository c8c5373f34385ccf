package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pinforge/internal/domain"
)

// BulkRunRepositoryPG implements domain.BulkRunRepository.
type BulkRunRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewBulkRunRepository creates a new bulk-run repository backed by PostgreSQL.
func NewBulkRunRepository(pool *pgxpool.Pool) *BulkRunRepositoryPG {
	return &BulkRunRepositoryPG{pool: pool}
}

// Create inserts a bulk run record.
func (r *BulkRunRepositoryPG) Create(ctx context.Context, run *domain.BulkRun) error {
	query := `
INSERT INTO bulk_runs (
	id, user_id, image_credential_id, keyword_credential_id, describe_credential_id,
	image_model, keyword_model, describe_model,
	width, height, total_rows, status
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
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
		run.Width,
		run.Height,
		run.TotalRows,
		run.Status,
	)
	return err
}

// GetByID fetches a bulk run by its identifier.
func (r *BulkRunRepositoryPG) GetByID(ctx context.Context, id string) (*domain.BulkRun, error) {
	query := `
SELECT id, user_id, image_credential_id, keyword_credential_id, describe_credential_id,
       image_model, keyword_model, describe_model,
       width, height, total_rows, completed_rows, failed_rows,
       status, error_message, created_at, updated_at
FROM bulk_runs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var run domain.BulkRun
	if err := row.Scan(
		&run.ID,
		&run.UserID,
		&run.ImageCredentialID,
		&run.KeywordCredentialID,
		&run.DescribeCredentialID,
		&run.ImageModel,
		&run.KeywordModel,
		&run.DescribeModel,
		&run.Width,
		&run.Height,
		&run.TotalRows,
		&run.CompletedRows,
		&run.FailedRows,
		&run.Status,
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

// MarkProcessing moves a pending bulk run into PROCESSING.
func (r *BulkRunRepositoryPG) MarkProcessing(ctx context.Context, id string) error {
	query := `
UPDATE bulk_runs
SET status = 'PROCESSING', updated_at = NOW()
WHERE id = $1 AND status = 'PENDING';
`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// MarkCompleted finishes a processing bulk run.
func (r *BulkRunRepositoryPG) MarkCompleted(ctx context.Context, id string) error {
	query := `
UPDATE bulk_runs
SET status = 'COMPLETED', updated_at = NOW()
WHERE id = $1 AND status = 'PROCESSING';
`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// MarkFailed fails a bulk run unless it already reached a terminal state.
func (r *BulkRunRepositoryPG) MarkFailed(ctx context.Context, id, errMsg string) error {
	query := `
UPDATE bulk_runs
SET status = 'FAILED', error_message = $2, updated_at = NOW()
WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED');
`
	_, err := r.pool.Exec(ctx, query, id, errMsg)
	return err
}

// IncrementCompletedRows bumps the completed-row counter.
func (r *BulkRunRepositoryPG) IncrementCompletedRows(ctx context.Context, id string) error {
	query := `UPDATE bulk_runs SET completed_rows = completed_rows + 1, updated_at = NOW() WHERE id = $1;`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// IncrementFailedRows bumps the failed-row counter.
func (r *BulkRunRepositoryPG) IncrementFailedRows(ctx context.Context, id string) error {
	query := `UPDATE bulk_runs SET failed_rows = failed_rows + 1, updated_at = NOW() WHERE id = $1;`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// BulkRowRepositoryPG implements domain.BulkRowRepository.
type BulkRowRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewBulkRowRepository creates a new bulk-row repository backed by PostgreSQL.
func NewBulkRowRepository(pool *pgxpool.Pool) *BulkRowRepositoryPG {
	return &BulkRowRepositoryPG{pool: pool}
}

// CreateAll inserts the rows of a bulk run in one transaction.
func (r *BulkRowRepositoryPG) CreateAll(ctx context.Context, rows []domain.BulkRow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
INSERT INTO bulk_rows (id, run_id, keywords, source_image_url, quantity, status, position)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	for _, row := range rows {
		if _, err := tx.Exec(ctx, query,
			row.ID,
			row.RunID,
			row.Keywords,
			row.SourceImageURL,
			row.Quantity,
			row.Status,
			row.Position,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListPending returns the run's still-pending rows in position order.
func (r *BulkRowRepositoryPG) ListPending(ctx context.Context, runID string) ([]domain.BulkRow, error) {
	return r.list(ctx, runID, true)
}

// ListByRunID returns all rows of a run in position order.
func (r *BulkRowRepositoryPG) ListByRunID(ctx context.Context, runID string) ([]domain.BulkRow, error) {
	return r.list(ctx, runID, false)
}

func (r *BulkRowRepositoryPG) list(ctx context.Context, runID string, pendingOnly bool) ([]domain.BulkRow, error) {
	query := `
SELECT id, run_id, keywords, source_image_url, quantity,
       completed_pins, failed_pins, status, error_message, diagnostics, position, created_at
FROM bulk_rows
WHERE run_id = $1
`
	if pendingOnly {
		query += ` AND status = 'PENDING'`
	}
	query += ` ORDER BY position;`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BulkRow
	for rows.Next() {
		var row domain.BulkRow
		if err := rows.Scan(
			&row.ID,
			&row.RunID,
			&row.Keywords,
			&row.SourceImageURL,
			&row.Quantity,
			&row.CompletedPins,
			&row.FailedPins,
			&row.Status,
			&row.ErrorMessage,
			&row.Diagnostics,
			&row.Position,
			&row.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkProcessing moves a pending row into PROCESSING.
func (r *BulkRowRepositoryPG) MarkProcessing(ctx context.Context, id string) error {
	query := `UPDATE bulk_rows SET status = 'PROCESSING' WHERE id = $1 AND status = 'PENDING';`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// MarkCompleted finishes a processing row.
func (r *BulkRowRepositoryPG) MarkCompleted(ctx context.Context, id string) error {
	query := `UPDATE bulk_rows SET status = 'COMPLETED' WHERE id = $1 AND status = 'PROCESSING';`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// MarkFailed fails a row unless it already reached a terminal state.
func (r *BulkRowRepositoryPG) MarkFailed(ctx context.Context, id, errMsg string) error {
	query := `
UPDATE bulk_rows
SET status = 'FAILED', error_message = $2
WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED');
`
	_, err := r.pool.Exec(ctx, query, id, errMsg)
	return err
}

// IncrementCompletedPins bumps the row's completed-pin counter.
func (r *BulkRowRepositoryPG) IncrementCompletedPins(ctx context.Context, id string) error {
	query := `UPDATE bulk_rows SET completed_pins = completed_pins + 1 WHERE id = $1;`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// IncrementFailedPins bumps the row's failed-pin counter.
func (r *BulkRowRepositoryPG) IncrementFailedPins(ctx context.Context, id string) error {
	query := `UPDATE bulk_rows SET failed_pins = failed_pins + 1 WHERE id = $1;`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// SetDiagnostics stores the captured API-call notes for a row.
func (r *BulkRowRepositoryPG) SetDiagnostics(ctx context.Context, id string, diagnostics []byte) error {
	query := `UPDATE bulk_rows SET diagnostics = $2 WHERE id = $1;`
	_, err := r.pool.Exec(ctx, query, id, nullableBytes(diagnostics))
	return err
}

// BulkPinRepositoryPG implements domain.BulkPinRepository.
type BulkPinRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewBulkPinRepository creates a new bulk-pin repository backed by PostgreSQL.
func NewBulkPinRepository(pool *pgxpool.Pool) *BulkPinRepositoryPG {
	return &BulkPinRepositoryPG{pool: pool}
}

// Create inserts a bulk pin record.
func (r *BulkPinRepositoryPG) Create(ctx context.Context, pin *domain.BulkPin) error {
	query := `
INSERT INTO bulk_pins (id, row_id, image_url, local_image_path, title, description, keywords, alt_text, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.pool.Exec(ctx, query,
		pin.ID,
		pin.RowID,
		pin.ImageURL,
		pin.LocalImagePath,
		pin.Title,
		pin.Description,
		pin.Keywords,
		pin.AltText,
		pin.Status,
	)
	return err
}

// ListByRowID returns all pins of a row in creation order.
func (r *BulkPinRepositoryPG) ListByRowID(ctx context.Context, rowID string) ([]domain.BulkPin, error) {
	query := `
SELECT id, row_id, image_url, local_image_path, title, description, keywords, alt_text, status, created_at
FROM bulk_pins
WHERE row_id = $1
ORDER BY created_at;
`
	rows, err := r.pool.Query(ctx, query, rowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pins []domain.BulkPin
	for rows.Next() {
		var pin domain.BulkPin
		if err := rows.Scan(
			&pin.ID,
			&pin.RowID,
			&pin.ImageURL,
			&pin.LocalImagePath,
			&pin.Title,
			&pin.Description,
			&pin.Keywords,
			&pin.AltText,
			&pin.Status,
			&pin.CreatedAt,
		); err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	return pins, rows.Err()
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
