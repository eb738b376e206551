package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/closetspace/asset-api/internal/config"
	"github.com/closetspace/asset-api/internal/domain/asset"
	"github.com/closetspace/asset-api/internal/infrastructure/auth"
	"github.com/closetspace/asset-api/internal/infrastructure/crontab"
	"github.com/closetspace/asset-api/internal/infrastructure/database"
	"github.com/closetspace/asset-api/internal/infrastructure/logger"
	"github.com/closetspace/asset-api/internal/infrastructure/observability"
	"github.com/closetspace/asset-api/internal/infrastructure/processor"
	"github.com/closetspace/asset-api/internal/infrastructure/replicate"
	repo "github.com/closetspace/asset-api/internal/infrastructure/repository/item"
	"github.com/closetspace/asset-api/internal/infrastructure/storage"
	"github.com/closetspace/asset-api/internal/interfaces/httpserver"
)

// @title Asset API
// @version 1.0
// @description Wardrobe item image pipeline: upload, generation, background removal and storage.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
type Application struct {
	httpServer *httpserver.HttpServer
	janitor    *crontab.Crontab
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HttpServer, janitor *crontab.Crontab, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		janitor:    janitor,
		log:        log,
	}
}

func (a *Application) Start(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return a.janitor.Run(egCtx)
	})
	eg.Go(func() error {
		return a.httpServer.Run(egCtx)
	})
	return eg.Wait()
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	if err := database.AutoMigrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	storageClient, err := storage.NewS3Storage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure storage bucket")
	}

	authValidator, err := auth.NewValidator(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize auth validator")
	}

	itemRepository := repo.NewRepository(db)
	generationService := replicate.NewGenerationService(cfg, log)
	removalService := replicate.NewRemovalService(cfg, log)
	imageProcessor := processor.New()

	assetService := asset.NewService(cfg, itemRepository, storageClient, removalService, generationService, imageProcessor, log)

	janitor := crontab.NewCrontab(cfg, itemRepository, log)
	httpServer := httpserver.New(cfg, log, assetService, authValidator)
	app := NewApplication(httpServer, janitor, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
