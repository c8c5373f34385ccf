package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pinforge/internal/domain"
)

var titleCaser = cases.Title(language.English)

func buildExpandPrompt(req ExpandRequest) string {
	var sb strings.Builder
	if text := strings.TrimSpace(req.PromptText); text != "" {
		sb.WriteString(text)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("You write metadata for themed inspiration pins.\n\n")
	}
	fmt.Fprintf(&sb, "Seed keywords: %s\n", strings.TrimSpace(req.Keywords))
	if desc := strings.TrimSpace(req.ImageDescription); desc != "" {
		fmt.Fprintf(&sb, "Image description: %s\n", desc)
	}
	fmt.Fprintf(&sb, "\nProduce %d distinct variants. Respond with ONLY a JSON array, no prose, where each element has the fields \"title\", \"description\", and \"keywords\" (keywords as a comma-separated string).", req.Count)
	return sb.String()
}

type variantPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Keywords    string `json:"keywords"`
}

// parseVariants tolerates prose and markdown fencing around the JSON array.
// It scans from the first '[' to the last ']' and decodes that slice.
func parseVariants(raw string) ([]domain.PinVariant, error) {
	fragment, err := extractJSONArray(raw)
	if err != nil {
		return nil, err
	}
	var payload []variantPayload
	if err := json.Unmarshal([]byte(fragment), &payload); err != nil {
		return nil, fmt.Errorf("chat: decode variants: %w", err)
	}
	variants := make([]domain.PinVariant, 0, len(payload))
	for _, p := range payload {
		title := strings.TrimSpace(p.Title)
		if title == "" {
			continue
		}
		variants = append(variants, domain.PinVariant{
			Title:       title,
			Description: strings.TrimSpace(p.Description),
			Keywords:    splitKeywords(p.Keywords),
		})
	}
	return variants, nil
}

func extractJSONArray(raw string) (string, error) {
	cleaned := trimCodeFence(raw)
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end < start {
		return "", errors.New("chat: no JSON array in response")
	}
	return cleaned[start : end+1], nil
}

func trimCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// fallbackVariants fans one generic variant out to exactly req.Count entries
// so a failed expansion never shrinks the batch.
func fallbackVariants(req ExpandRequest) []domain.PinVariant {
	keywords := splitKeywords(req.Keywords)
	primary := "inspiration"
	if len(keywords) > 0 {
		primary = keywords[0]
	} else {
		keywords = []string{primary}
	}
	variant := domain.PinVariant{
		Title:       titleCaser.String(primary),
		Description: fmt.Sprintf("Ideas and inspiration for %s.", strings.ToLower(primary)),
		Keywords:    keywords,
	}
	out := make([]domain.PinVariant, req.Count)
	for i := range out {
		out[i] = variant
	}
	return out
}

func splitKeywords(keywords string) []string {
	parts := strings.FieldsFunc(keywords, func(r rune) bool { return r == ',' || r == '\n' })
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
