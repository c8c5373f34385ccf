package domain

import "time"

// BulkRun drives a batch of BulkRows through the generation pipeline. Its
// aggregate counters are incremented by the bulk orchestrator immediately
// after the row event they count.
type BulkRun struct {
	ID                   string
	UserID               string
	ImageCredentialID    string
	KeywordCredentialID  string
	DescribeCredentialID string
	ImageModel           string
	KeywordModel         string
	DescribeModel        string
	Width                int
	Height               int
	TotalRows            int
	CompletedRows        int
	FailedRows           int
	Status               RunStatus
	ErrorMessage         string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// BulkRow is one independent unit of a BulkRun. A row failure never affects
// sibling rows. Diagnostics hold captured API-call notes as raw JSON.
type BulkRow struct {
	ID             string
	RunID          string
	Keywords       string
	SourceImageURL string
	Quantity       int
	CompletedPins  int
	FailedPins     int
	Status         RunStatus
	ErrorMessage   string
	Diagnostics    []byte
	Position       int
	CreatedAt      time.Time
}

// BulkPin is one generated unit of a BulkRow. Pins are never retried in
// place: a failed pin only increments the row's failure counter.
type BulkPin struct {
	ID             string
	RowID          string
	ImageURL       string
	LocalImagePath string
	Title          string
	Description    string
	Keywords       []string
	AltText        string
	Status         ItemStatus
	CreatedAt      time.Time
}
