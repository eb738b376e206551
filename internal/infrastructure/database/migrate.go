package database

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/closetspace/asset-api/internal/infrastructure/database/entities"
)

// AutoMigrate applies database schema changes for the wardrobe item table.
func AutoMigrate(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	if err := db.WithContext(ctx).AutoMigrate(&entities.WardrobeItem{}); err != nil {
		return err
	}
	log.Info().Msg("database schema up to date")
	return nil
}
