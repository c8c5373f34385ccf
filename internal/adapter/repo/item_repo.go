package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pinforge/internal/domain"
)

// ItemRepositoryPG implements domain.ItemRepository.
type ItemRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewItemRepository creates a new generated-item repository backed by PostgreSQL.
func NewItemRepository(pool *pgxpool.Pool) *ItemRepositoryPG {
	return &ItemRepositoryPG{pool: pool}
}

// Create inserts a generated item record.
func (r *ItemRepositoryPG) Create(ctx context.Context, item *domain.GeneratedItem) error {
	query := `
INSERT INTO generated_items (
	id, run_id, raw_image_path, final_image_path,
	title, description, keywords, template_id, status, error_message
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err := r.pool.Exec(ctx, query,
		item.ID,
		item.RunID,
		item.RawImagePath,
		item.FinalImagePath,
		item.Title,
		item.Description,
		item.Keywords,
		item.TemplateID,
		item.Status,
		item.ErrorMessage,
	)
	return err
}

// GetByID fetches a generated item by its identifier.
func (r *ItemRepositoryPG) GetByID(ctx context.Context, id string) (*domain.GeneratedItem, error) {
	query := `
SELECT id, run_id, raw_image_path, final_image_path,
       title, description, keywords, template_id, status, error_message, created_at
FROM generated_items
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

// ListByRunID returns all items of a run in creation order.
func (r *ItemRepositoryPG) ListByRunID(ctx context.Context, runID string) ([]domain.GeneratedItem, error) {
	query := `
SELECT id, run_id, raw_image_path, final_image_path,
       title, description, keywords, template_id, status, error_message, created_at
FROM generated_items
WHERE run_id = $1
ORDER BY created_at;
`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.GeneratedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ReplaceTemplate swaps the item's template and final image in one update.
func (r *ItemRepositoryPG) ReplaceTemplate(ctx context.Context, itemID, templateID, finalImagePath string) error {
	query := `
UPDATE generated_items
SET template_id = $2, final_image_path = $3
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, itemID, templateID, finalImagePath)
	return err
}

func scanItem(row pgx.Row) (*domain.GeneratedItem, error) {
	var item domain.GeneratedItem
	if err := row.Scan(
		&item.ID,
		&item.RunID,
		&item.RawImagePath,
		&item.FinalImagePath,
		&item.Title,
		&item.Description,
		&item.Keywords,
		&item.TemplateID,
		&item.Status,
		&item.ErrorMessage,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &item, nil
}
