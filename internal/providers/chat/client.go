// Package chat holds the synchronous model client used for image
// description, keyword expansion, and alt-text generation. Every call
// degrades to a usable fallback value: description and alt text are
// decorative context, and keyword expansion fans a fixed variant out to the
// requested count, so none of these calls can fail a run.
package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pinforge/internal/domain"
)

// FallbackDescription stands in when the provider cannot see the image.
const FallbackDescription = "A curated lifestyle scene with warm tones and natural light, suited to an inspirational themed pin."

const (
	maxAltTextLen      = 125
	altTextTruncateLen = 122

	defaultOpenAIModel   = "gpt-4o-mini"
	defaultGeminiModel   = "gemini-1.5-flash"
	defaultDeepSeekModel = "deepseek-chat"
)

// Options configures the chat client.
type Options struct {
	HTTPClient      *http.Client
	Logger          zerolog.Logger
	OpenAIBaseURL   string
	GeminiBaseURL   string
	DeepSeekBaseURL string
}

// Client performs completion calls against chat/vision endpoints, dispatched
// by the credential's provider tag. It is stateless per call; the credential
// arrives with each invocation.
type Client struct {
	httpClient      *http.Client
	logger          zerolog.Logger
	openAIBaseURL   string
	geminiBaseURL   string
	deepSeekBaseURL string
}

// ExpandRequest carries the inputs of one keyword-expansion call.
type ExpandRequest struct {
	Keywords         string
	ImageDescription string
	PromptText       string
	Count            int
}

// NewClient constructs a chat client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	return &Client{
		httpClient:      httpClient,
		logger:          opts.Logger,
		openAIBaseURL:   baseOr(opts.OpenAIBaseURL, "https://api.openai.com/v1"),
		geminiBaseURL:   baseOr(opts.GeminiBaseURL, "https://generativelanguage.googleapis.com/v1beta"),
		deepSeekBaseURL: baseOr(opts.DeepSeekBaseURL, "https://api.deepseek.com/v1"),
	}
}

func baseOr(v, fallback string) string {
	v = strings.TrimRight(strings.TrimSpace(v), "/")
	if v == "" {
		return fallback
	}
	return v
}

// DescribeImage asks a vision-capable provider for a textual description of
// the image bytes. Providers without vision support, and any transport or
// parse failure, yield the fixed fallback description.
func (c *Client) DescribeImage(ctx context.Context, cred domain.Credential, model string, imageData []byte, mimeType, promptText string) string {
	if !cred.Type.SupportsVision() {
		c.logger.Debug().Str("provider", string(cred.Type)).Msg("chat: provider lacks vision, using fallback description")
		return FallbackDescription
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))
	text, err := c.visionCompletion(ctx, cred, model, promptText, visionInput{dataURL: dataURL, inlineData: imageData, inlineMIME: mimeType})
	if err != nil {
		c.logger.Warn().Err(err).Msg("chat: describe image failed, using fallback description")
		return FallbackDescription
	}
	return text
}

// ExpandKeywords asks the model for a JSON array of pin variants. The
// response is scanned for the first bracketed array and parsed leniently. On
// any transport or parse failure the fixed fallback variant is fanned out to
// exactly req.Count entries so downstream steps always have usable records;
// a successful parse may legitimately return fewer than req.Count.
func (c *Client) ExpandKeywords(ctx context.Context, cred domain.Credential, model string, req ExpandRequest) []domain.PinVariant {
	if req.Count < 1 {
		req.Count = 1
	}
	raw, err := c.textCompletion(ctx, cred, model, buildExpandPrompt(req))
	if err != nil {
		c.logger.Warn().Err(err).Msg("chat: keyword expansion failed, using fallback variants")
		return fallbackVariants(req)
	}
	variants, err := parseVariants(raw)
	if err != nil || len(variants) == 0 {
		c.logger.Warn().Err(err).Msg("chat: keyword expansion unparseable, using fallback variants")
		return fallbackVariants(req)
	}
	return variants
}

// GenerateAltText produces accessibility alt text for a hosted image, capped
// at 125 characters. Overruns are truncated with an ellipsis; failures fall
// back to the truncated title.
func (c *Client) GenerateAltText(ctx context.Context, cred domain.Credential, model, imageURL, title string) string {
	prompt := fmt.Sprintf("Write concise, descriptive alt text for this image, 125 characters at most. The image illustrates %q. Respond with the alt text only.", title)
	if !cred.Type.SupportsVision() {
		return truncateAltText(title)
	}
	text, err := c.visionCompletion(ctx, cred, model, prompt, visionInput{remoteURL: imageURL})
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			c.logger.Warn().Err(err).Msg("chat: alt text generation failed, falling back to title")
		}
		return truncateAltText(title)
	}
	return truncateAltText(text)
}

func truncateAltText(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= maxAltTextLen {
		return string(runes)
	}
	return string(runes[:altTextTruncateLen]) + "…"
}

type visionInput struct {
	dataURL    string
	remoteURL  string
	inlineData []byte
	inlineMIME string
}

func (c *Client) visionCompletion(ctx context.Context, cred domain.Credential, model, promptText string, input visionInput) (string, error) {
	switch cred.Type {
	case domain.CredentialOpenAI:
		imageRef := input.dataURL
		if imageRef == "" {
			imageRef = input.remoteURL
		}
		content := []openAIContentPart{
			{Type: "text", Text: promptText},
			{Type: "image_url", ImageURL: &openAIImageURL{URL: imageRef}},
		}
		return c.openAIStyleCompletion(ctx, c.openAIBaseURL, cred.APIKey, resolveModel(model, cred.ModelName, defaultOpenAIModel), content)
	case domain.CredentialGemini:
		data := input.inlineData
		mime := input.inlineMIME
		if data == nil && input.remoteURL != "" {
			var err error
			data, mime, err = c.fetchImage(ctx, input.remoteURL)
			if err != nil {
				return "", err
			}
		}
		return c.geminiCompletion(ctx, cred.APIKey, resolveModel(model, cred.ModelName, defaultGeminiModel), promptText, data, mime)
	default:
		return "", fmt.Errorf("chat: provider %q has no vision endpoint", cred.Type)
	}
}

func (c *Client) textCompletion(ctx context.Context, cred domain.Credential, model, promptText string) (string, error) {
	switch cred.Type {
	case domain.CredentialOpenAI:
		content := []openAIContentPart{{Type: "text", Text: promptText}}
		return c.openAIStyleCompletion(ctx, c.openAIBaseURL, cred.APIKey, resolveModel(model, cred.ModelName, defaultOpenAIModel), content)
	case domain.CredentialDeepSeek:
		content := []openAIContentPart{{Type: "text", Text: promptText}}
		return c.openAIStyleCompletion(ctx, c.deepSeekBaseURL, cred.APIKey, resolveModel(model, cred.ModelName, defaultDeepSeekModel), content)
	case domain.CredentialGemini:
		return c.geminiCompletion(ctx, cred.APIKey, resolveModel(model, cred.ModelName, defaultGeminiModel), promptText, nil, "")
	default:
		return "", fmt.Errorf("chat: unsupported completion provider %q", cred.Type)
	}
}

// resolveModel picks the effective model: the caller's explicit override wins,
// then the model stored on the credential, then the provider default.
func resolveModel(override, credDefault, fallback string) string {
	if m := strings.TrimSpace(override); m != "" {
		return m
	}
	if m := strings.TrimSpace(credDefault); m != "" {
		return m
	}
	return fallback
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) openAIStyleCompletion(ctx context.Context, baseURL, apiKey, model string, content []openAIContentPart) (string, error) {
	payload := openAIChatRequest{
		Model:       model,
		Temperature: 0.7,
		Messages:    []openAIMessage{{Role: "user", Content: content}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("chat: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chat: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("chat: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded openAIChatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("chat: decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("chat: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("chat: empty choices")
	}
	text := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("chat: empty response text")
	}
	return text, nil
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) geminiCompletion(ctx context.Context, apiKey, model, promptText string, imageData []byte, mimeType string) (string, error) {
	parts := []geminiPart{{Text: promptText}}
	if len(imageData) > 0 {
		if mimeType == "" {
			mimeType = "image/png"
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(imageData),
		}})
	}
	payload := geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("chat: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.geminiBaseURL, model, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chat: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("chat: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded geminiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("chat: decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("chat: %s", decoded.Error.Message)
	}
	for _, cand := range decoded.Candidates {
		for _, part := range cand.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", errors.New("chat: empty candidates")
}

func (c *Client) fetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("chat: build image fetch: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("chat: fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("chat: fetch image status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("chat: read image: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/png"
	}
	return data, mime, nil
}
