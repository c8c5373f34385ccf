package domain

// CredentialType tags which external provider an API credential belongs to.
type CredentialType string

const (
	// Image-generation providers.
	CredentialLeonardo    CredentialType = "leonardo"
	CredentialOpenAIImage CredentialType = "openai-image"

	// Chat/vision completion providers.
	CredentialOpenAI   CredentialType = "openai"
	CredentialGemini   CredentialType = "gemini"
	CredentialDeepSeek CredentialType = "deepseek"
)

// SupportsVision reports whether the provider accepts image inputs on its
// completion endpoint. Non-vision providers get fixed fallback descriptions.
func (t CredentialType) SupportsVision() bool {
	switch t {
	case CredentialOpenAI, CredentialGemini:
		return true
	default:
		return false
	}
}

// Credential is an external API credential record, consumed read-only.
type Credential struct {
	ID        string
	UserID    string
	Type      CredentialType
	APIKey    string
	ModelName string
}

// PromptTemplate is a stored prompt text referenced by runs for the
// description, generation, and keyword-expansion phases.
type PromptTemplate struct {
	ID     string
	UserID string
	Name   string
	Text   string
}
