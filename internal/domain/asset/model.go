package asset

import "time"

// Item is the slice of a wardrobe item record the pipeline reads and writes.
// The full record is owned by the item store; everything else on it is out
// of scope here.
type Item struct {
	ID                    string     `json:"id"`
	OwnerID               string     `json:"owner_id"`
	ProcessingStatus      Status     `json:"processing_status"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	ImageURL              *string    `json:"image_url,omitempty"`
}

// StatusPatch carries the fields a status write should touch. Nil pointers
// leave the column untouched.
type StatusPatch struct {
	Status      Status
	StartedAt   *time.Time
	CompletedAt *time.Time
	ImageURL    *string
}

// UploadInput is the payload for the direct-upload flow.
type UploadInput struct {
	ItemID           string
	OwnerID          string
	Data             []byte
	DeclaredMIME     string
	RemoveBackground bool
}

// GenerateInput is the payload for the generate-from-prompt flow.
type GenerateInput struct {
	ItemID  string
	OwnerID string
	Prompt  string
}

// Result reports the outcome of a pipeline run.
type Result struct {
	ImageURL              string
	StoragePath           string
	BackgroundRemoved     bool
	RemovalFailed         bool
	RemovalFailureMessage string
	GenerationDuration    time.Duration
	CostUnits             string
}
