package item

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/closetspace/asset-api/internal/domain/asset"
	"github.com/closetspace/asset-api/internal/infrastructure/database/entities"
	"github.com/closetspace/asset-api/internal/utils/platformerrors"
)

// Repository tracks processing state on wardrobe item rows. Every write is
// scoped to both the item id and the owner id, so a caller can never move
// another user's item.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetForOwner loads an item and enforces ownership. A missing row is
// NotFound; a row held by a different owner is Forbidden.
func (r *Repository) GetForOwner(ctx context.Context, itemID, ownerID string) (*asset.Item, error) {
	var entity entities.WardrobeItem
	err := r.db.WithContext(ctx).Where("id = ?", itemID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(
				ctx,
				platformerrors.LayerRepository,
				platformerrors.ErrorTypeNotFound,
				"wardrobe item not found",
				err,
				"item-not-found",
			)
		}
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to load wardrobe item",
			err,
			"item-lookup-error",
		)
	}
	if entity.OwnerID != ownerID {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeForbidden,
			"wardrobe item belongs to another user",
			nil,
			"item-owner-mismatch",
		)
	}
	obj := mapEntity(entity)
	return &obj, nil
}

// SetStatus applies a status patch to the owner's item. Nil patch fields
// leave their columns untouched. Zero rows affected means the item is gone
// or owned by someone else, which reports as NotFound.
func (r *Repository) SetStatus(ctx context.Context, itemID, ownerID string, patch asset.StatusPatch) error {
	updates := map[string]interface{}{
		"processing_status": string(patch.Status),
	}
	if patch.StartedAt != nil {
		updates["processing_started_at"] = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		updates["processing_completed_at"] = patch.CompletedAt
	}
	if patch.ImageURL != nil {
		updates["image_url"] = patch.ImageURL
	}

	tx := r.db.WithContext(ctx).
		Model(&entities.WardrobeItem{}).
		Where("id = ? AND owner_id = ?", itemID, ownerID).
		Updates(updates)
	if tx.Error != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to update processing status",
			tx.Error,
			"item-status-update-error",
		)
	}
	if tx.RowsAffected == 0 {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeNotFound,
			"wardrobe item not found for owner",
			nil,
			"item-status-update-missed",
		)
	}
	return nil
}

// Exists reports whether the owner still holds the item. The pipeline
// re-checks this before its final completed write.
func (r *Repository) Exists(ctx context.Context, itemID, ownerID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entities.WardrobeItem{}).
		Where("id = ? AND owner_id = ?", itemID, ownerID).
		Count(&count).Error
	if err != nil {
		return false, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to check wardrobe item existence",
			err,
			"item-exists-error",
		)
	}
	return count > 0, nil
}

// FailStaleProcessing flips items stuck in processing beyond the threshold
// to failed and returns how many were swept.
func (r *Repository) FailStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	now := time.Now()

	tx := r.db.WithContext(ctx).
		Model(&entities.WardrobeItem{}).
		Where("processing_status = ? AND processing_started_at < ?", string(asset.StatusProcessing), cutoff).
		Updates(map[string]interface{}{
			"processing_status":       string(asset.StatusFailed),
			"processing_completed_at": &now,
		})
	if tx.Error != nil {
		return 0, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to sweep stale processing items",
			tx.Error,
			"item-stale-sweep-error",
		)
	}
	return tx.RowsAffected, nil
}

func mapEntity(entity entities.WardrobeItem) asset.Item {
	return asset.Item{
		ID:                    entity.ID,
		OwnerID:               entity.OwnerID,
		ProcessingStatus:      asset.Status(entity.ProcessingStatus),
		ProcessingStartedAt:   entity.ProcessingStartedAt,
		ProcessingCompletedAt: entity.ProcessingCompletedAt,
		ImageURL:              entity.ImageURL,
	}
}
