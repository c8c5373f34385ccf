package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pinforge/internal/domain"
)

type leonardoGenerator struct {
	apiKey       string
	defaultModel string
	baseURL      string
	httpClient   *http.Client
	logger       zerolog.Logger
	pollInterval time.Duration
	pollAttempts int
}

func newLeonardoGenerator(cred domain.Credential, opts Options) *leonardoGenerator {
	return &leonardoGenerator{
		apiKey:       cred.APIKey,
		defaultModel: cred.ModelName,
		baseURL:      strings.TrimRight(opts.LeonardoBaseURL, "/"),
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollAttempts,
	}
}

type leonardoSubmitRequest struct {
	Prompt    string `json:"prompt"`
	ModelID   string `json:"modelId,omitempty"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	NumImages int    `json:"num_images"`
}

type leonardoSubmitResponse struct {
	SDGenerationJob struct {
		GenerationID string `json:"generationId"`
	} `json:"sdGenerationJob"`
}

type leonardoStatusResponse struct {
	GenerationsByPK struct {
		Status          string `json:"status"`
		GeneratedImages []struct {
			URL string `json:"url"`
		} `json:"generated_images"`
	} `json:"generations_by_pk"`
}

// Generate submits a generation job, then polls until the job settles or the
// attempt budget runs out. Transient poll errors are logged and retried; only
// a terminal FAILED status or budget exhaustion fails the call.
func (g *leonardoGenerator) Generate(ctx context.Context, req Request) (string, error) {
	generationID, err := g.submit(ctx, req)
	if err != nil {
		return "", err
	}
	g.logger.Debug().Str("generation_id", generationID).Msg("imagegen: leonardo job submitted")

	for attempt := 0; attempt < g.pollAttempts; attempt++ {
		if err := sleepCtx(ctx, g.pollInterval); err != nil {
			return "", err
		}
		status, err := g.poll(ctx, generationID)
		if err != nil {
			g.logger.Warn().Err(err).Str("generation_id", generationID).Msg("imagegen: leonardo poll failed, retrying")
			continue
		}
		switch status.GenerationsByPK.Status {
		case "COMPLETE":
			if len(status.GenerationsByPK.GeneratedImages) == 0 {
				return "", fmt.Errorf("imagegen: leonardo job %s completed with no images: %w", generationID, domain.ErrProviderFailure)
			}
			return status.GenerationsByPK.GeneratedImages[0].URL, nil
		case "FAILED":
			return "", fmt.Errorf("imagegen: leonardo job %s failed: %w", generationID, domain.ErrProviderFailure)
		}
	}
	return "", fmt.Errorf("imagegen: leonardo job %s still pending after %d polls: %w", generationID, g.pollAttempts, domain.ErrProviderFailure)
}

func (g *leonardoGenerator) submit(ctx context.Context, req Request) (string, error) {
	payload := leonardoSubmitRequest{
		Prompt:    req.Prompt,
		ModelID:   resolveModel(req.Model, g.defaultModel, defaultLeonardoModel),
		Width:     req.Width,
		Height:    req.Height,
		NumImages: 1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("imagegen: encode submit: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("imagegen: build submit: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("imagegen: submit: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("imagegen: read submit response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("imagegen: submit status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
	}
	var decoded leonardoSubmitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("imagegen: decode submit response: %w", err)
	}
	if decoded.SDGenerationJob.GenerationID == "" {
		return "", fmt.Errorf("imagegen: submit returned no generation id: %w", domain.ErrProviderFailure)
	}
	return decoded.SDGenerationJob.GenerationID, nil
}

func (g *leonardoGenerator) poll(ctx context.Context, generationID string) (*leonardoStatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/generations/"+generationID, nil)
	if err != nil {
		return nil, fmt.Errorf("imagegen: build poll: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("imagegen: poll: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("imagegen: read poll response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("imagegen: poll status %d", resp.StatusCode)
	}
	var decoded leonardoStatusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("imagegen: decode poll response: %w", err)
	}
	return &decoded, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
