package requests

import (
	"github.com/closetspace/asset-api/internal/domain/asset"
)

// GenerateImageRequest represents an image-generation request
type GenerateImageRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// ToDomain converts request to domain input
func (r *GenerateImageRequest) ToDomain(itemID, ownerID string) asset.GenerateInput {
	return asset.GenerateInput{
		ItemID:  itemID,
		OwnerID: ownerID,
		Prompt:  r.Prompt,
	}
}
