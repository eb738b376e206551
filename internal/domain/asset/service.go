package asset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"resty.dev/v3"

	"github.com/closetspace/asset-api/internal/config"
	"github.com/closetspace/asset-api/internal/infrastructure/metrics"
	"github.com/closetspace/asset-api/internal/infrastructure/replicate"
	"github.com/closetspace/asset-api/internal/infrastructure/storage"
	"github.com/closetspace/asset-api/internal/utils/imgformat"
	"github.com/closetspace/asset-api/internal/utils/platformerrors"
)

const (
	flowUpload   = "upload"
	flowGenerate = "generate"

	outcomeCompleted = "completed"
	outcomeDegraded  = "degraded"
	outcomeFailed    = "failed"
)

// Repository tracks processing state. Every operation is scoped to the
// owner, so the pipeline can never touch another user's item.
type Repository interface {
	GetForOwner(ctx context.Context, itemID, ownerID string) (*Item, error)
	SetStatus(ctx context.Context, itemID, ownerID string, patch StatusPatch) error
	Exists(ctx context.Context, itemID, ownerID string) (bool, error)
}

// Storage stores pipeline objects and derives their public URLs.
type Storage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string, overwrite bool) error
	PublicURL(key string) string
	Remove(ctx context.Context, keys ...string)
}

// Remover produces a background-stripped rendition of a public image URL.
type Remover interface {
	RemoveBackground(ctx context.Context, imageURL string) (string, error)
}

// Generator renders an image from a text prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*replicate.GenerationResult, error)
}

// Resizer bounds image dimensions.
type Resizer interface {
	BoundTo(data []byte, maxDim int) ([]byte, error)
}

// Service orchestrates the image pipeline for wardrobe items.
type Service struct {
	cfg       *config.Config
	repo      Repository
	storage   Storage
	remover   Remover
	generator Generator
	resizer   Resizer
	log       zerolog.Logger
	http      *resty.Client
}

func NewService(cfg *config.Config, repo Repository, store Storage, remover Remover, generator Generator, resizer Resizer, log zerolog.Logger) *Service {
	// Removal outputs live on the provider's delivery CDN; retries around
	// them happen at the pipeline level, not in the client.
	client := resty.New().
		SetRetryCount(0).
		SetTimeout(cfg.DownloadTimeout)

	return &Service{
		cfg:       cfg,
		repo:      repo,
		storage:   store,
		remover:   remover,
		generator: generator,
		resizer:   resizer,
		log:       log.With().Str("component", "asset-service").Logger(),
		http:      client,
	}
}

// ProcessUpload runs the direct-upload pipeline: validate the file, store
// the original, strip the background when requested, and record the
// outcome on the item.
func (s *Service) ProcessUpload(ctx context.Context, input UploadInput) (*Result, error) {
	ctx, span := otel.Tracer(s.cfg.ServiceName).Start(ctx, "asset.process_upload",
		trace.WithAttributes(attribute.String("item_id", input.ItemID)))
	defer span.End()

	start := time.Now()
	result, err := s.processUpload(ctx, input)
	s.finish(span, flowUpload, start, result, err)
	return result, err
}

// GenerateFromPrompt runs the generation pipeline. Unlike uploads there is
// no source image to fall back on, so every stage failure is terminal.
func (s *Service) GenerateFromPrompt(ctx context.Context, input GenerateInput) (*Result, error) {
	ctx, span := otel.Tracer(s.cfg.ServiceName).Start(ctx, "asset.generate_from_prompt",
		trace.WithAttributes(attribute.String("item_id", input.ItemID)))
	defer span.End()

	start := time.Now()
	result, err := s.generateFromPrompt(ctx, input)
	s.finish(span, flowGenerate, start, result, err)
	return result, err
}

// GetStatus returns the pipeline view of an item for its owner.
func (s *Service) GetStatus(ctx context.Context, itemID, ownerID string) (*Item, error) {
	return s.repo.GetForOwner(ctx, itemID, ownerID)
}

func (s *Service) processUpload(ctx context.Context, input UploadInput) (*Result, error) {
	if err := s.validateUpload(ctx, input); err != nil {
		return nil, err
	}

	item, err := s.repo.GetForOwner(ctx, input.ItemID, input.OwnerID)
	if err != nil {
		return nil, err
	}
	if _, err := item.ProcessingStatus.TransitionTo(StatusProcessing); err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			fmt.Sprintf("item in status %s cannot start processing", item.ProcessingStatus),
			err,
			"asset-transition-invalid",
		)
	}

	// A PNG that already carries transparency went through background
	// removal once before. Re-running the model would burn quota for the
	// same pixels, so it is stored as processed directly.
	if input.RemoveBackground && strings.EqualFold(input.DeclaredMIME, imgformat.MIMEPNG) &&
		imgformat.HasAlphaChannel(input.Data) {
		return s.storeAlphaSkip(ctx, input)
	}

	ext := imgformat.ExtensionForMIME(input.DeclaredMIME)
	originalKey := storage.OriginalPath(input.OwnerID, input.ItemID, ext)
	if err := s.storage.Upload(ctx, originalKey, input.Data, input.DeclaredMIME, false); err != nil {
		return nil, s.storageError(ctx, "failed to store original upload", err, "asset-original-upload-error")
	}
	originalURL := s.storage.PublicURL(originalKey)

	if err := s.markProcessing(ctx, input.ItemID, input.OwnerID); err != nil {
		s.storage.Remove(ctx, originalKey)
		return nil, err
	}

	if !input.RemoveBackground {
		if err := s.complete(ctx, input.ItemID, input.OwnerID, originalURL, originalKey); err != nil {
			return nil, err
		}
		s.log.Info().
			Str("item_id", input.ItemID).
			Str("storage_path", originalKey).
			Msg("upload stored without background removal")
		return &Result{ImageURL: originalURL, StoragePath: originalKey}, nil
	}

	resultURL, err := s.remover.RemoveBackground(ctx, originalURL)
	if err != nil {
		metrics.RecordBackgroundRemoval("failure")
		return s.degradeToOriginal(ctx, input, originalKey, originalURL, err)
	}
	metrics.RecordBackgroundRemoval("success")

	data, headerType, err := s.fetchResult(ctx, resultURL)
	if err != nil {
		return s.degradeToOriginal(ctx, input, originalKey, originalURL, err)
	}

	processedKey, processedURL, err := s.storeProcessed(ctx, input.ItemID, input.OwnerID, data, headerType)
	if err != nil {
		s.failStatus(ctx, input.ItemID, input.OwnerID)
		return nil, err
	}

	if err := s.complete(ctx, input.ItemID, input.OwnerID, processedURL, processedKey, originalKey); err != nil {
		return nil, err
	}
	s.storage.Remove(ctx, originalKey)

	s.log.Info().
		Str("item_id", input.ItemID).
		Str("storage_path", processedKey).
		Msg("upload pipeline completed")
	return &Result{ImageURL: processedURL, StoragePath: processedKey, BackgroundRemoved: true}, nil
}

func (s *Service) generateFromPrompt(ctx context.Context, input GenerateInput) (*Result, error) {
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			"prompt is required",
			nil,
			"asset-empty-prompt",
		)
	}

	item, err := s.repo.GetForOwner(ctx, input.ItemID, input.OwnerID)
	if err != nil {
		return nil, err
	}
	if _, err := item.ProcessingStatus.TransitionTo(StatusProcessing); err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			fmt.Sprintf("item in status %s cannot start processing", item.ProcessingStatus),
			err,
			"asset-transition-invalid",
		)
	}

	if err := s.markProcessing(ctx, input.ItemID, input.OwnerID); err != nil {
		return nil, err
	}

	gen, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.failStatus(ctx, input.ItemID, input.OwnerID)
		return nil, err
	}
	metrics.RecordGeneration(gen.Duration.Seconds())

	// The removal model pulls its input over HTTP, so the generated bytes
	// are parked at a timestamped original path for the duration of the run.
	ext := imgformat.ExtensionForMIME(gen.ContentType)
	stagingKey := storage.OriginalPath(input.OwnerID, input.ItemID, ext)
	if err := s.storage.Upload(ctx, stagingKey, gen.Data, gen.ContentType, false); err != nil {
		s.failStatus(ctx, input.ItemID, input.OwnerID)
		return nil, s.storageError(ctx, "failed to stage generated image", err, "asset-staging-upload-error")
	}

	resultURL, err := s.remover.RemoveBackground(ctx, s.storage.PublicURL(stagingKey))
	if err != nil {
		metrics.RecordBackgroundRemoval("failure")
		s.storage.Remove(ctx, stagingKey)
		s.failStatus(ctx, input.ItemID, input.OwnerID)
		return nil, err
	}
	metrics.RecordBackgroundRemoval("success")

	data, headerType, err := s.fetchResult(ctx, resultURL)
	if err != nil {
		s.storage.Remove(ctx, stagingKey)
		s.failStatus(ctx, input.ItemID, input.OwnerID)
		return nil, err
	}

	processedKey, processedURL, err := s.storeProcessed(ctx, input.ItemID, input.OwnerID, data, headerType)
	if err != nil {
		s.storage.Remove(ctx, stagingKey)
		s.failStatus(ctx, input.ItemID, input.OwnerID)
		return nil, err
	}

	if err := s.complete(ctx, input.ItemID, input.OwnerID, processedURL, processedKey, stagingKey); err != nil {
		return nil, err
	}
	s.storage.Remove(ctx, stagingKey)

	cost := s.estimateCost(gen.Duration)
	s.log.Info().
		Str("item_id", input.ItemID).
		Str("model", gen.Model).
		Dur("generation_duration", gen.Duration).
		Str("cost_units", cost).
		Msg("generation pipeline completed")

	return &Result{
		ImageURL:           processedURL,
		StoragePath:        processedKey,
		BackgroundRemoved:  true,
		GenerationDuration: gen.Duration,
		CostUnits:          cost,
	}, nil
}

func (s *Service) validateUpload(ctx context.Context, input UploadInput) error {
	if len(input.Data) == 0 {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			"uploaded file is empty",
			nil,
			"asset-empty-upload",
		)
	}
	if int64(len(input.Data)) > s.cfg.MaxSourceBytes {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			fmt.Sprintf("file exceeds max size of %d bytes", s.cfg.MaxSourceBytes),
			nil,
			"asset-oversized-upload",
		)
	}
	if !s.cfg.MIMEAllowed(input.DeclaredMIME) {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			fmt.Sprintf("unsupported content type %s", input.DeclaredMIME),
			nil,
			"asset-unsupported-mime",
		)
	}
	if !imgformat.Matches(input.Data, input.DeclaredMIME) {
		// Worth a log line: a mismatch here is either a broken client or
		// someone probing with renamed files.
		s.log.Warn().
			Str("item_id", input.ItemID).
			Str("owner_id", input.OwnerID).
			Str("declared_type", input.DeclaredMIME).
			Msg("upload magic bytes do not match declared content type")
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			"file content does not match the declared content type",
			nil,
			"asset-magic-mismatch",
		)
	}
	return nil
}

// storeAlphaSkip handles transparent PNG uploads that requested removal:
// the file already is a cutout, so it lands on the processed path exactly
// as uploaded. No removal call, no resize; re-uploading a processed image
// stores the same bytes under the same key.
func (s *Service) storeAlphaSkip(ctx context.Context, input UploadInput) (*Result, error) {
	s.log.Info().
		Str("item_id", input.ItemID).
		Msg("transparent PNG upload, skipping background removal")

	if err := s.markProcessing(ctx, input.ItemID, input.OwnerID); err != nil {
		return nil, err
	}

	processedKey := storage.ProcessedPath(input.OwnerID, input.ItemID, imgformat.ExtensionForMIME(imgformat.MIMEPNG))
	if err := s.storage.Upload(ctx, processedKey, input.Data, imgformat.MIMEPNG, true); err != nil {
		s.failStatus(ctx, input.ItemID, input.OwnerID)
		return nil, s.storageError(ctx, "failed to store processed image", err, "asset-processed-upload-error")
	}
	processedURL := s.storage.PublicURL(processedKey)

	if err := s.complete(ctx, input.ItemID, input.OwnerID, processedURL, processedKey); err != nil {
		return nil, err
	}
	return &Result{ImageURL: processedURL, StoragePath: processedKey, BackgroundRemoved: true}, nil
}

// storeProcessed bounds the image, sniffs its real content type, and
// uploads it to the item's stable processed path.
func (s *Service) storeProcessed(ctx context.Context, itemID, ownerID string, data []byte, headerType string) (string, string, error) {
	bounded, err := s.resizer.BoundTo(data, s.cfg.MaxImageDimension)
	if err != nil {
		// The resize bound is best effort; undecodable bytes are stored
		// as delivered.
		s.log.Debug().Err(err).Str("item_id", itemID).Msg("resize skipped")
		bounded = data
	}

	contentType := detectImageType(bounded, headerType)
	key := storage.ProcessedPath(ownerID, itemID, imgformat.ExtensionForMIME(contentType))
	if err := s.storage.Upload(ctx, key, bounded, contentType, true); err != nil {
		return "", "", s.storageError(ctx, "failed to store processed image", err, "asset-processed-upload-error")
	}
	return key, s.storage.PublicURL(key), nil
}

// complete re-checks the owning record right before the terminal write. A
// record deleted mid-flight gets its freshly uploaded objects removed
// instead of a completed status nobody owns.
func (s *Service) complete(ctx context.Context, itemID, ownerID, imageURL string, cleanupKeys ...string) error {
	exists, err := s.repo.Exists(ctx, itemID, ownerID)
	if err != nil {
		return err
	}
	if !exists {
		s.storage.Remove(ctx, cleanupKeys...)
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeNotFound,
			"wardrobe item was deleted during processing",
			nil,
			"asset-item-deleted-midflight",
		)
	}

	now := time.Now()
	if err := s.repo.SetStatus(ctx, itemID, ownerID, StatusPatch{
		Status:      StatusCompleted,
		CompletedAt: &now,
		ImageURL:    &imageURL,
	}); err != nil {
		s.storage.Remove(ctx, cleanupKeys...)
		return err
	}
	return nil
}

// degradeToOriginal records the failed run while keeping the original as a
// usable image. The caller still gets the fallback URL rather than losing
// the upload outright.
func (s *Service) degradeToOriginal(ctx context.Context, input UploadInput, originalKey, originalURL string, cause error) (*Result, error) {
	s.log.Warn().
		Err(cause).
		Str("item_id", input.ItemID).
		Msg("background removal failed, keeping original image")

	now := time.Now()
	if err := s.repo.SetStatus(ctx, input.ItemID, input.OwnerID, StatusPatch{
		Status:      StatusFailed,
		CompletedAt: &now,
		ImageURL:    &originalURL,
	}); err != nil {
		return nil, err
	}
	return &Result{
		ImageURL:              originalURL,
		StoragePath:           originalKey,
		RemovalFailed:         true,
		RemovalFailureMessage: failureMessage(cause),
	}, nil
}

func (s *Service) markProcessing(ctx context.Context, itemID, ownerID string) error {
	now := time.Now()
	return s.repo.SetStatus(ctx, itemID, ownerID, StatusPatch{
		Status:    StatusProcessing,
		StartedAt: &now,
	})
}

// failStatus flips the record to failed after a mid-pipeline error so it
// never sticks in processing. Best effort; the original error wins.
func (s *Service) failStatus(ctx context.Context, itemID, ownerID string) {
	now := time.Now()
	if err := s.repo.SetStatus(ctx, itemID, ownerID, StatusPatch{
		Status:      StatusFailed,
		CompletedAt: &now,
	}); err != nil {
		s.log.Error().Err(err).Str("item_id", itemID).Msg("failed to record failed status")
	}
}

// fetchResult downloads a removal output. The URL points at the model
// provider's delivery CDN, not our API, so the request carries no auth.
func (s *Service) fetchResult(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := s.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, "", platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeBackgroundRemoval,
			"failed to download background removal output",
			err,
			"asset-result-download-error",
		)
	}
	if resp.StatusCode() >= 400 {
		return nil, "", platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeBackgroundRemoval,
			fmt.Sprintf("background removal output fetch returned status %d", resp.StatusCode()),
			nil,
			"asset-result-download-status",
		)
	}
	data := resp.Bytes()
	if len(data) == 0 {
		return nil, "", platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeBackgroundRemoval,
			"background removal output was empty",
			nil,
			"asset-result-empty",
		)
	}
	if int64(len(data)) > s.cfg.MaxStorageBytes {
		return nil, "", platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeBackgroundRemoval,
			fmt.Sprintf("removal output exceeds the %d byte storage ceiling", s.cfg.MaxStorageBytes),
			nil,
			"asset-result-oversized",
		)
	}
	return data, resp.Header().Get("Content-Type"), nil
}

// estimateCost prices a run as duration times the configured per-second
// rate. Informational; the provider's invoice is authoritative.
func (s *Service) estimateCost(d time.Duration) string {
	rate, err := decimal.NewFromString(s.cfg.GenerationCostUnits)
	if err != nil {
		return ""
	}
	return rate.Mul(decimal.NewFromFloat(d.Seconds())).Round(6).String()
}

func (s *Service) storageError(ctx context.Context, message string, err error, uuid string) error {
	var pe *platformerrors.PlatformError
	if errors.As(err, &pe) {
		return pe
	}
	return platformerrors.NewError(
		ctx,
		platformerrors.LayerDomain,
		platformerrors.ErrorTypeStorage,
		message,
		err,
		uuid,
	)
}

func (s *Service) finish(span trace.Span, flow string, start time.Time, result *Result, err error) {
	outcome := outcomeCompleted
	switch {
	case err != nil:
		outcome = outcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result != nil && result.RemovalFailed:
		outcome = outcomeDegraded
	}
	span.SetAttributes(attribute.String("pipeline.outcome", outcome))
	metrics.RecordPipelineRun(flow, outcome, time.Since(start).Seconds())
}

// detectImageType prefers what the bytes actually are over what the
// source claimed they were.
func detectImageType(data []byte, headerType string) string {
	if detected := mimetype.Detect(data).String(); strings.HasPrefix(detected, "image/") {
		return detected
	}
	if strings.HasPrefix(strings.ToLower(headerType), "image/") {
		return headerType
	}
	return imgformat.MIMEPNG
}

func failureMessage(err error) string {
	var pe *platformerrors.PlatformError
	if errors.As(err, &pe) {
		return pe.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
