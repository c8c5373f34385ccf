// Package imagegen dispatches image generation across provider families.
// Leonardo works through an async job queue (submit, poll, fetch); the
// OpenAI image endpoint returns synchronously. Both surface the same
// Generator contract so the pipeline never branches on provider type.
package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pinforge/internal/domain"
)

const (
	// Leonardo Creative.
	defaultLeonardoModel    = "b24e16ff-06e3-43eb-8d33-4416c2d75876"
	defaultOpenAIImageModel = "dall-e-3"
)

// Request describes one image to generate.
type Request struct {
	Prompt string
	Model  string
	Width  int
	Height int
}

// Generator produces one image per call and returns a URL the caller can
// download the result from.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Options configures provider construction.
type Options struct {
	HTTPClient      *http.Client
	Logger          zerolog.Logger
	LeonardoBaseURL string
	OpenAIBaseURL   string
	PollInterval    time.Duration
	PollAttempts    int
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	if o.LeonardoBaseURL == "" {
		o.LeonardoBaseURL = "https://cloud.leonardo.ai/api/rest/v1"
	}
	if o.OpenAIBaseURL == "" {
		o.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = 60
	}
	return o
}

// New builds the generator matching the credential's provider.
func New(cred domain.Credential, opts Options) (Generator, error) {
	opts = opts.withDefaults()
	switch cred.Type {
	case domain.CredentialLeonardo:
		return newLeonardoGenerator(cred, opts), nil
	case domain.CredentialOpenAIImage:
		return newOpenAIGenerator(cred, opts), nil
	default:
		return nil, fmt.Errorf("imagegen: provider %q cannot generate images: %w", cred.Type, domain.ErrInvalidRequest)
	}
}

// resolveModel picks the effective model: the request's explicit override
// wins, then the model stored on the credential, then the provider default.
func resolveModel(override, credDefault, fallback string) string {
	if m := strings.TrimSpace(override); m != "" {
		return m
	}
	if m := strings.TrimSpace(credDefault); m != "" {
		return m
	}
	return fallback
}

// Download fetches generated image bytes from the provider-hosted URL.
func Download(ctx context.Context, client *http.Client, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("imagegen: build download: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagegen: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("imagegen: download status %d: %w", resp.StatusCode, domain.ErrProviderFailure)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("imagegen: read download: %w", err)
	}
	return data, nil
}
