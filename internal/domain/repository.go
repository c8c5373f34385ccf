package domain

import "context"

// RunRepository persists single-item generation runs. The Mark* methods must
// refuse to move a run out of a terminal state; re-running an update to the
// same value is harmless.
type RunRepository interface {
	Create(ctx context.Context, run *GenerationRun) error
	GetByID(ctx context.Context, id string) (*GenerationRun, error)
	MarkProcessing(ctx context.Context, id string) error
	SetDescription(ctx context.Context, id, description string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// ItemRepository persists generated items.
type ItemRepository interface {
	Create(ctx context.Context, item *GeneratedItem) error
	GetByID(ctx context.Context, id string) (*GeneratedItem, error)
	ListByRunID(ctx context.Context, runID string) ([]GeneratedItem, error)
	ReplaceTemplate(ctx context.Context, itemID, templateID, finalImagePath string) error
}

// BulkRunRepository persists bulk runs and their aggregate counters.
type BulkRunRepository interface {
	Create(ctx context.Context, run *BulkRun) error
	GetByID(ctx context.Context, id string) (*BulkRun, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	IncrementCompletedRows(ctx context.Context, id string) error
	IncrementFailedRows(ctx context.Context, id string) error
}

// BulkRowRepository persists the rows of a bulk run.
type BulkRowRepository interface {
	CreateAll(ctx context.Context, rows []BulkRow) error
	ListPending(ctx context.Context, runID string) ([]BulkRow, error)
	ListByRunID(ctx context.Context, runID string) ([]BulkRow, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	IncrementCompletedPins(ctx context.Context, id string) error
	IncrementFailedPins(ctx context.Context, id string) error
	SetDiagnostics(ctx context.Context, id string, diagnostics []byte) error
}

// BulkPinRepository persists generated bulk pins.
type BulkPinRepository interface {
	Create(ctx context.Context, pin *BulkPin) error
	ListByRowID(ctx context.Context, rowID string) ([]BulkPin, error)
}

// CredentialRepository reads API credential records.
type CredentialRepository interface {
	GetCredential(ctx context.Context, id string) (*Credential, error)
}

// PromptRepository reads stored prompt templates.
type PromptRepository interface {
	GetPrompt(ctx context.Context, id string) (*PromptTemplate, error)
}

// TemplateRepository reads visual templates.
type TemplateRepository interface {
	GetTemplate(ctx context.Context, id string) (*VisualTemplate, error)
	ListTemplates(ctx context.Context, ids []string) ([]VisualTemplate, error)
}
