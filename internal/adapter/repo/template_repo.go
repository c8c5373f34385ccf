package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pinforge/internal/domain"
)

// TemplateRepositoryPG implements domain.TemplateRepository.
type TemplateRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository creates a visual-template repository backed by PostgreSQL.
func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepositoryPG {
	return &TemplateRepositoryPG{pool: pool}
}

const templateColumns = `
id, user_id, name, kind, asset_path, text, font_family, font_color,
background_color, font_size_pct, width_pct, height_pct, position_x_pct, position_y_pct, opacity
`

// GetTemplate fetches one visual template by its identifier.
func (r *TemplateRepositoryPG) GetTemplate(ctx context.Context, id string) (*domain.VisualTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM visual_templates WHERE id = $1;`
	row := r.pool.QueryRow(ctx, query, id)
	tmpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return tmpl, nil
}

// ListTemplates fetches the named templates, preserving database order.
// Missing identifiers are skipped rather than erroring; the caller decides
// whether an empty result is acceptable.
func (r *TemplateRepositoryPG) ListTemplates(ctx context.Context, ids []string) ([]domain.VisualTemplate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + templateColumns + ` FROM visual_templates WHERE id = ANY($1);`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []domain.VisualTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tmpl)
	}
	return templates, rows.Err()
}

func scanTemplate(row pgx.Row) (*domain.VisualTemplate, error) {
	var tmpl domain.VisualTemplate
	if err := row.Scan(
		&tmpl.ID,
		&tmpl.UserID,
		&tmpl.Name,
		&tmpl.Kind,
		&tmpl.AssetPath,
		&tmpl.Text,
		&tmpl.FontFamily,
		&tmpl.FontColor,
		&tmpl.BackgroundColor,
		&tmpl.FontSizePct,
		&tmpl.WidthPct,
		&tmpl.HeightPct,
		&tmpl.PositionXPct,
		&tmpl.PositionYPct,
		&tmpl.Opacity,
	); err != nil {
		return nil, err
	}
	return &tmpl, nil
}
