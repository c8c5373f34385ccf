package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pinforge/internal/domain"
	"pinforge/internal/render"
)

// ChangeTemplate recomposites a finished item with a different template,
// working from the preserved raw image so template effects never stack. The
// previous final image is removed best effort after the swap is persisted.
func (p *Pipeline) ChangeTemplate(ctx context.Context, itemID, templateID string) (*domain.GeneratedItem, error) {
	item, err := p.deps.Items.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load item: %w", err)
	}
	if item.Status != domain.ItemStatusCompleted {
		return nil, fmt.Errorf("pipeline: item %s: %w", itemID, domain.ErrItemNotFinished)
	}
	tmpl, err := p.deps.Templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load template: %w", err)
	}

	finalKey := fmt.Sprintf("runs/%s/final-%s.png", item.RunID, uuid.NewString())
	if err := p.deps.Renderer.ApplyTemplate(p.deps.Store.AbsPath(item.RawImagePath), *tmpl, p.deps.Store.AbsPath(finalKey)); err != nil {
		return nil, fmt.Errorf("pipeline: apply template: %w", err)
	}
	p.deps.Renderer.WriteDescriptiveMetadata(p.deps.Store.AbsPath(finalKey), render.Descriptive{
		Title:       item.Title,
		Description: item.Description,
		Keywords:    item.Keywords,
	})

	if err := p.deps.Items.ReplaceTemplate(ctx, itemID, templateID, finalKey); err != nil {
		return nil, fmt.Errorf("pipeline: persist template swap: %w", err)
	}
	if old := item.FinalImagePath; old != "" && old != finalKey {
		if err := p.deps.Store.Remove(old); err != nil {
			p.deps.Logger.Warn().Err(err).Str("item_id", itemID).Msg("pipeline: failed to remove replaced final image")
		}
	}

	item.TemplateID = templateID
	item.FinalImagePath = finalKey
	return item, nil
}
