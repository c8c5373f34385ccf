package domain

import "time"

// RunStatus enumerates the lifecycle states shared by single and bulk runs.
// Transitions are one-way: PENDING -> PROCESSING -> {COMPLETED, FAILED}.
type RunStatus string

const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusProcessing RunStatus = "PROCESSING"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ItemStatus enumerates the per-unit outcomes of a run.
type ItemStatus string

const (
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusFailed    ItemStatus = "failed"
)

// GenerationRun is one user-initiated request to produce Quantity finished
// pins from a seed image and keyword hints. Mutable fields (status, image
// description, error) are owned exclusively by the single-run orchestrator.
type GenerationRun struct {
	ID                   string
	UserID               string
	ImageCredentialID    string
	KeywordCredentialID  string
	DescribeCredentialID string
	ImageModel           string
	KeywordModel         string
	DescribeModel        string
	Quantity             int
	Width                int
	Height               int
	SeedImagePath        string
	KeywordHints         string
	DescribePromptID     string
	GeneratePromptID     string
	KeywordPromptID      string
	TemplateIDs          []string
	TextOnImage          bool
	Status               RunStatus
	ImageDescription     string
	ErrorMessage         string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// GeneratedItem is one finished (or failed) pin belonging to a GenerationRun.
// RawImagePath points at the downloaded pre-template image, FinalImagePath at
// the composited deliverable. Immutable after creation except for the
// change-template operation, which swaps TemplateID and FinalImagePath.
type GeneratedItem struct {
	ID             string
	RunID          string
	RawImagePath   string
	FinalImagePath string
	Title          string
	Description    string
	Keywords       []string
	TemplateID     string
	Status         ItemStatus
	ErrorMessage   string
	CreatedAt      time.Time
}

// PinVariant is one {title, description, keywords} tuple produced by keyword
// expansion, used as the creative basis for one generated image.
type PinVariant struct {
	Title       string
	Description string
	Keywords    []string
}
