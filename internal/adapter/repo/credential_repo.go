package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pinforge/internal/domain"
)

// CredentialRepositoryPG implements domain.CredentialRepository and
// domain.PromptRepository. Both tables are read-only from the pipeline's
// point of view.
type CredentialRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository creates a credential/prompt repository backed by PostgreSQL.
func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepositoryPG {
	return &CredentialRepositoryPG{pool: pool}
}

// GetCredential fetches an API credential by its identifier.
func (r *CredentialRepositoryPG) GetCredential(ctx context.Context, id string) (*domain.Credential, error) {
	query := `
SELECT id, user_id, provider, api_key, model_name
FROM api_credentials
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var cred domain.Credential
	if err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Type,
		&cred.APIKey,
		&cred.ModelName,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// GetPrompt fetches a stored prompt template by its identifier.
func (r *CredentialRepositoryPG) GetPrompt(ctx context.Context, id string) (*domain.PromptTemplate, error) {
	query := `
SELECT id, user_id, name, prompt_text
FROM prompt_templates
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var prompt domain.PromptTemplate
	if err := row.Scan(
		&prompt.ID,
		&prompt.UserID,
		&prompt.Name,
		&prompt.Text,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &prompt, nil
}
