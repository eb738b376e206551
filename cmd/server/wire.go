//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/closetspace/asset-api/internal/config"
	"github.com/closetspace/asset-api/internal/domain/asset"
	"github.com/closetspace/asset-api/internal/infrastructure/auth"
	"github.com/closetspace/asset-api/internal/infrastructure/crontab"
	"github.com/closetspace/asset-api/internal/infrastructure/database"
	"github.com/closetspace/asset-api/internal/infrastructure/logger"
	"github.com/closetspace/asset-api/internal/infrastructure/processor"
	"github.com/closetspace/asset-api/internal/infrastructure/replicate"
	repo "github.com/closetspace/asset-api/internal/infrastructure/repository/item"
	"github.com/closetspace/asset-api/internal/infrastructure/storage"
	"github.com/closetspace/asset-api/internal/interfaces/httpserver"
)

var assetSet = wire.NewSet(
	repo.NewRepository,
	wire.Bind(new(asset.Repository), new(*repo.Repository)),
	wire.Bind(new(crontab.Sweeper), new(*repo.Repository)),
	provideStorage,
	replicate.NewGenerationService,
	wire.Bind(new(asset.Generator), new(*replicate.GenerationService)),
	replicate.NewRemovalService,
	wire.Bind(new(asset.Remover), new(*replicate.RemovalService)),
	processor.New,
	wire.Bind(new(asset.Resizer), new(*processor.ImageProcessor)),
	asset.NewService,
)

// BuildApplication assembles the asset API with Wire.
func BuildApplication(ctx context.Context) (*Application, error) {
	wire.Build(
		config.Load,
		logger.New,
		auth.NewValidator,
		newGormDB,
		assetSet,
		crontab.NewCrontab,
		httpserver.New,
		NewApplication,
	)
	return nil, nil
}

func newGormDB(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(ctx, db, log); err != nil {
		return nil, err
	}
	return db, nil
}

// provideStorage initializes the S3 backend and ensures the bucket exists.
func provideStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (asset.Storage, error) {
	s3Storage, err := storage.NewS3Storage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := s3Storage.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s3Storage, nil
}
