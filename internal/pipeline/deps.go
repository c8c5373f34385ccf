// Package pipeline orchestrates generation runs end to end: credential and
// prompt resolution, image description, keyword expansion, provider image
// generation, template compositing, and persistence. The worker is its only
// caller.
package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"pinforge/internal/domain"
	"pinforge/internal/notify"
	"pinforge/internal/providers/chat"
	"pinforge/internal/providers/imagegen"
	"pinforge/internal/render"
	"pinforge/internal/storage"
)

// ChatClient is the completion surface the pipeline needs. Describe and
// expand calls degrade internally and never return errors.
type ChatClient interface {
	DescribeImage(ctx context.Context, cred domain.Credential, model string, imageData []byte, mimeType, promptText string) string
	ExpandKeywords(ctx context.Context, cred domain.Credential, model string, req chat.ExpandRequest) []domain.PinVariant
	GenerateAltText(ctx context.Context, cred domain.Credential, model, imageURL, title string) string
}

// TemplateRenderer composites templates onto generated images and writes
// descriptive metadata into finished files.
type TemplateRenderer interface {
	ApplyTemplate(srcPath string, tmpl domain.VisualTemplate, dstPath string) error
	WriteDescriptiveMetadata(path string, meta render.Descriptive)
}

// Notifier delivers completion events. Failures are logged, never fatal.
type Notifier interface {
	Send(ctx context.Context, userID string, n notify.Notification) error
}

// Deps wires the pipeline's collaborators. NewGenerator, Download, and
// RandIntn are injected so tests can run without providers or providers'
// latency.
type Deps struct {
	Runs        domain.RunRepository
	Items       domain.ItemRepository
	BulkRuns    domain.BulkRunRepository
	BulkRows    domain.BulkRowRepository
	BulkPins    domain.BulkPinRepository
	Credentials domain.CredentialRepository
	Prompts     domain.PromptRepository
	Templates   domain.TemplateRepository

	Chat         ChatClient
	NewGenerator func(cred domain.Credential) (imagegen.Generator, error)
	Download     func(ctx context.Context, url string) ([]byte, error)
	Renderer     TemplateRenderer
	Store        *storage.FileStore
	Notify       Notifier
	RandIntn     func(n int) int

	Logger zerolog.Logger
}

// Pipeline executes queued run tasks. One task at a time per worker.
type Pipeline struct {
	deps Deps
}

// New builds a pipeline from its dependency set.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

func (p *Pipeline) notify(ctx context.Context, userID string, n notify.Notification) {
	if p.deps.Notify == nil {
		return
	}
	if err := p.deps.Notify.Send(ctx, userID, n); err != nil {
		p.deps.Logger.Warn().Err(err).Str("user_id", userID).Msg("pipeline: notification failed")
	}
}

// credential resolves one credential ID, falling back to a sibling ID when
// the primary is empty. Runs may share one credential across phases.
func (p *Pipeline) credential(ctx context.Context, primaryID, fallbackID string) (*domain.Credential, error) {
	id := primaryID
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		return nil, domain.ErrInvalidRequest
	}
	return p.deps.Credentials.GetCredential(ctx, id)
}

// promptText resolves a stored prompt, returning empty text for an empty ID.
func (p *Pipeline) promptText(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	prompt, err := p.deps.Prompts.GetPrompt(ctx, id)
	if err != nil {
		return "", err
	}
	return prompt.Text, nil
}
