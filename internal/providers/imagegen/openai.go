package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"pinforge/internal/domain"
)

type openAIGenerator struct {
	apiKey       string
	defaultModel string
	baseURL      string
	httpClient   *http.Client
	logger       zerolog.Logger
}

func newOpenAIGenerator(cred domain.Credential, opts Options) *openAIGenerator {
	return &openAIGenerator{
		apiKey:       cred.APIKey,
		defaultModel: cred.ModelName,
		baseURL:      strings.TrimRight(opts.OpenAIBaseURL, "/"),
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
	}
}

type openAIImageRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type openAIImageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate calls the synchronous image endpoint. The requested canvas is
// mapped to the nearest supported provider size; the renderer resizes to the
// exact dimensions afterwards.
func (g *openAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	payload := openAIImageRequest{
		Model:  resolveModel(req.Model, g.defaultModel, defaultOpenAIImageModel),
		Prompt: req.Prompt,
		N:      1,
		Size:   nearestSize(req.Width, req.Height),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("imagegen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("imagegen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("imagegen: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("imagegen: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("imagegen: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
	}
	var decoded openAIImageResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("imagegen: decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("imagegen: %s: %w", decoded.Error.Message, domain.ErrProviderFailure)
	}
	if len(decoded.Data) == 0 || decoded.Data[0].URL == "" {
		return "", fmt.Errorf("imagegen: empty image data: %w", domain.ErrProviderFailure)
	}
	return decoded.Data[0].URL, nil
}

func nearestSize(width, height int) string {
	switch {
	case height > width:
		return "1024x1792"
	case width > height:
		return "1792x1024"
	default:
		return "1024x1024"
	}
}
