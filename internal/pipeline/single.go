package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pinforge/internal/domain"
	"pinforge/internal/notify"
	"pinforge/internal/providers/chat"
	"pinforge/internal/providers/imagegen"
	"pinforge/internal/render"
)

const (
	legibleTextInstruction = "Render the title text directly on the image in a large, clearly legible typeface with strong contrast against the background."
	noTextInstruction      = "Do not render any text, letters, or typography on the image."
)

// ExecuteRun drives one generation run to a terminal state. Setup failures
// (missing run, credentials, prompts, templates) fail the whole run;
// per-item failures are recorded and skipped so the remaining quantity still
// generates. Runs already in a terminal state are left untouched.
func (p *Pipeline) ExecuteRun(ctx context.Context, runID string) error {
	log := p.deps.Logger.With().Str("run_id", runID).Logger()

	run, err := p.deps.Runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("pipeline: load run: %w", err)
	}
	if run.Status.Terminal() {
		log.Info().Str("status", string(run.Status)).Msg("pipeline: run already terminal, skipping")
		return nil
	}
	if err := p.deps.Runs.MarkProcessing(ctx, runID); err != nil {
		return fmt.Errorf("pipeline: mark processing: %w", err)
	}

	setup, err := p.loadRunSetup(ctx, run)
	if err != nil {
		return p.failRun(ctx, run, err)
	}

	description := p.describeSeed(ctx, run, setup)
	if err := p.deps.Runs.SetDescription(ctx, runID, description); err != nil {
		return p.failRun(ctx, run, fmt.Errorf("store description: %w", err))
	}

	variants := p.deps.Chat.ExpandKeywords(ctx, *setup.keywordCred, run.KeywordModel, chat.ExpandRequest{
		Keywords:         run.KeywordHints,
		ImageDescription: description,
		PromptText:       setup.keywordPrompt,
		Count:            run.Quantity,
	})

	completed := 0
	for i := 0; i < run.Quantity; i++ {
		variant := variants[i%len(variants)]
		if err := p.generateItem(ctx, run, setup, variant, description, i); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("pipeline: item failed")
			p.recordFailedItem(ctx, run.ID, err)
			continue
		}
		completed++
	}

	if err := p.deps.Runs.MarkCompleted(ctx, runID); err != nil {
		return fmt.Errorf("pipeline: mark completed: %w", err)
	}
	log.Info().Int("completed", completed).Int("requested", run.Quantity).Msg("pipeline: run completed")
	p.notify(ctx, run.UserID, notify.Notification{
		Title: "Pin generation complete",
		Body:  fmt.Sprintf("%d of %d pins generated", completed, run.Quantity),
		URL:   "/runs/" + run.ID,
		Tag:   "run-" + run.ID,
	})
	return nil
}

type runSetup struct {
	imageCred      *domain.Credential
	keywordCred    *domain.Credential
	describeCred   *domain.Credential
	describePrompt string
	generatePrompt string
	keywordPrompt  string
	templates      []domain.VisualTemplate
	generator      imagegen.Generator
}

func (p *Pipeline) loadRunSetup(ctx context.Context, run *domain.GenerationRun) (*runSetup, error) {
	var s runSetup
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
	if s.describePrompt, err = p.promptText(ctx, run.DescribePromptID); err != nil {
		return nil, fmt.Errorf("describe prompt: %w", err)
	}
	if s.generatePrompt, err = p.promptText(ctx, run.GeneratePromptID); err != nil {
		return nil, fmt.Errorf("generate prompt: %w", err)
	}
	if s.keywordPrompt, err = p.promptText(ctx, run.KeywordPromptID); err != nil {
		return nil, fmt.Errorf("keyword prompt: %w", err)
	}
	if s.templates, err = p.deps.Templates.ListTemplates(ctx, run.TemplateIDs); err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}
	if s.generator, err = p.deps.NewGenerator(*s.imageCred); err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	return &s, nil
}

// describeSeed produces the run's image description. An unreadable seed
// image degrades to the fixed fallback, same as a provider without vision.
func (p *Pipeline) describeSeed(ctx context.Context, run *domain.GenerationRun, setup *runSetup) string {
	if run.SeedImagePath == "" {
		return chat.FallbackDescription
	}
	data, err := p.deps.Store.Read(ctx, run.SeedImagePath)
	if err != nil {
		p.deps.Logger.Warn().Err(err).Str("run_id", run.ID).Msg("pipeline: seed image unreadable, using fallback description")
		return chat.FallbackDescription
	}
	prompt := setup.describePrompt
	if prompt == "" {
		prompt = "Describe this image in two or three sentences, focusing on subject, mood, and style."
	}
	return p.deps.Chat.DescribeImage(ctx, *setup.describeCred, run.DescribeModel, data, "image/png", prompt)
}

func (p *Pipeline) generateItem(ctx context.Context, run *domain.GenerationRun, setup *runSetup, variant domain.PinVariant, description string, index int) error {
	prompt := buildImagePrompt(setup.generatePrompt, variant, description, run.TextOnImage)

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

	rawKey, err := p.deps.Store.Write(ctx, fmt.Sprintf("runs/%s/raw-%d-%s.png", run.ID, index, uuid.NewString()), data)
	if err != nil {
		return fmt.Errorf("store raw image: %w", err)
	}

	var tmpl domain.VisualTemplate
	if len(setup.templates) > 0 {
		tmpl = setup.templates[p.deps.RandIntn(len(setup.templates))]
	}
	finalKey := fmt.Sprintf("runs/%s/final-%d-%s.png", run.ID, index, uuid.NewString())
	if err := p.deps.Renderer.ApplyTemplate(p.deps.Store.AbsPath(rawKey), tmpl, p.deps.Store.AbsPath(finalKey)); err != nil {
		return fmt.Errorf("apply template: %w", err)
	}
	p.deps.Renderer.WriteDescriptiveMetadata(p.deps.Store.AbsPath(finalKey), render.Descriptive{
		Title:       variant.Title,
		Description: variant.Description,
		Keywords:    variant.Keywords,
	})

	item := &domain.GeneratedItem{
		ID:             uuid.NewString(),
		RunID:          run.ID,
		RawImagePath:   rawKey,
		FinalImagePath: finalKey,
		Title:          variant.Title,
		Description:    variant.Description,
		Keywords:       variant.Keywords,
		TemplateID:     tmpl.ID,
		Status:         domain.ItemStatusCompleted,
	}
	if err := p.deps.Items.Create(ctx, item); err != nil {
		return fmt.Errorf("persist item: %w", err)
	}
	return nil
}

func (p *Pipeline) recordFailedItem(ctx context.Context, runID string, cause error) {
	item := &domain.GeneratedItem{
		ID:           uuid.NewString(),
		RunID:        runID,
		Status:       domain.ItemStatusFailed,
		ErrorMessage: cause.Error(),
	}
	if err := p.deps.Items.Create(ctx, item); err != nil {
		p.deps.Logger.Error().Err(err).Str("run_id", runID).Msg("pipeline: failed to persist failed item")
	}
}

func (p *Pipeline) failRun(ctx context.Context, run *domain.GenerationRun, cause error) error {
	p.deps.Logger.Error().Err(cause).Str("run_id", run.ID).Msg("pipeline: run failed")
	if err := p.deps.Runs.MarkFailed(ctx, run.ID, cause.Error()); err != nil {
		p.deps.Logger.Error().Err(err).Str("run_id", run.ID).Msg("pipeline: failed to mark run failed")
	}
	p.notify(ctx, run.UserID, notify.Notification{
		Title: "Pin generation failed",
		Body:  cause.Error(),
		URL:   "/runs/" + run.ID,
		Tag:   "run-" + run.ID,
	})
	return fmt.Errorf("pipeline: run %s: %w", run.ID, cause)
}

// buildImagePrompt assembles the provider prompt from the stored template,
// the variant, and the seed description. TextOnImage decides whether the
// provider is told to draw the title or to avoid typography entirely.
func buildImagePrompt(promptTemplate string, variant domain.PinVariant, description string, textOnImage bool) string {
	var sb strings.Builder
	if text := strings.TrimSpace(promptTemplate); text != "" {
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Theme: %s.", variant.Title)
	if len(variant.Keywords) > 0 {
		fmt.Fprintf(&sb, " Keywords: %s.", strings.Join(variant.Keywords, ", "))
	}
	if desc := strings.TrimSpace(description); desc != "" {
		fmt.Fprintf(&sb, " Style reference: %s", desc)
	}
	sb.WriteString("\n")
	if textOnImage {
		fmt.Fprintf(&sb, "%s Title to render: %q.", legibleTextInstruction, variant.Title)
	} else {
		sb.WriteString(noTextInstruction)
	}
	return sb.String()
}
