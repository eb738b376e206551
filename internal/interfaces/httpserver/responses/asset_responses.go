package responses

import (
	"time"

	"github.com/closetspace/asset-api/internal/domain/asset"
)

// ProcessResponse represents a finished pipeline run. Both the upload and the
// generate flow return it; a removal failure downgrades the run to the
// original image and says so instead of failing the request.
type ProcessResponse struct {
	Success                 bool   `json:"success"`
	ImageURL                string `json:"image_url"`
	StoragePath             string `json:"storage_path,omitempty"`
	BackgroundRemovalStatus string `json:"background_removal_status,omitempty"`
	Message                 string `json:"message,omitempty"`
	GenerationDurationMS    int64  `json:"generation_duration_ms,omitempty"`
	CostUnits               string `json:"cost_units,omitempty"`
}

// BuildProcessResponse creates response from a pipeline result
func BuildProcessResponse(result *asset.Result) *ProcessResponse {
	resp := &ProcessResponse{
		Success:     true,
		ImageURL:    result.ImageURL,
		StoragePath: result.StoragePath,
	}

	if result.RemovalFailed {
		resp.BackgroundRemovalStatus = "failed"
		resp.Message = result.RemovalFailureMessage
	}

	if result.GenerationDuration > 0 {
		resp.GenerationDurationMS = result.GenerationDuration.Milliseconds()
		resp.CostUnits = result.CostUnits
	}

	return resp
}

// ItemStatusResponse represents the processing state of a wardrobe item
type ItemStatusResponse struct {
	Success               bool       `json:"success"`
	ItemID                string     `json:"item_id"`
	ProcessingStatus      string     `json:"processing_status"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	ImageURL              *string    `json:"image_url,omitempty"`
}

// BuildItemStatusResponse creates response from a wardrobe item
func BuildItemStatusResponse(item *asset.Item) *ItemStatusResponse {
	return &ItemStatusResponse{
		Success:               true,
		ItemID:                item.ID,
		ProcessingStatus:      string(item.ProcessingStatus),
		ProcessingStartedAt:   item.ProcessingStartedAt,
		ProcessingCompletedAt: item.ProcessingCompletedAt,
		ImageURL:              item.ImageURL,
	}
}
