package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"github.com/closetspace/asset-api/internal/config"
	"github.com/closetspace/asset-api/internal/domain/retry"
	"github.com/closetspace/asset-api/internal/utils/platformerrors"
)

// RemovalService strips image backgrounds through the Replicate
// predictions API.
type RemovalService struct {
	cfg *config.Config
	log zerolog.Logger
}

// NewRemovalService creates a RemovalService.
func NewRemovalService(cfg *config.Config, log zerolog.Logger) *RemovalService {
	return &RemovalService{
		cfg: cfg,
		log: log.With().Str("component", "replicate_removal").Logger(),
	}
}

// modelResponse is the slice of the model registry resource we read.
type modelResponse struct {
	LatestVersion struct {
		ID string `json:"id"`
	} `json:"latest_version"`
}

// RemoveBackground submits the image at imageURL for background removal
// and returns the URL of the result. Each attempt resolves the model
// version fresh and submits one blocking request; the whole operation is
// retried with linearly increasing delay until the attempt budget runs out.
func (s *RemovalService) RemoveBackground(ctx context.Context, imageURL string) (string, error) {
	policy := retry.LinearPolicy(s.cfg.MaxBgRemovalAttempts-1, time.Second)

	outputURL, err := retry.ExecuteWithResult(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		if attempt > 0 {
			s.log.Warn().Int("attempt", attempt+1).Msg("retrying background removal")
		}
		return s.removeOnce(ctx, imageURL)
	})
	if err != nil {
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeBackgroundRemoval,
			fmt.Sprintf("background removal failed after %d attempts", s.cfg.MaxBgRemovalAttempts),
			err, "replicate-removal-exhausted")
	}
	return outputURL, nil
}

func (s *RemovalService) removeOnce(ctx context.Context, imageURL string) (string, error) {
	client := newRestyClient(s.cfg.ReplicateAPIToken)

	version, err := s.resolveVersion(ctx, client)
	if err != nil {
		return "", err
	}

	pred, err := s.submitBlocking(ctx, client, version, imageURL)
	if err != nil {
		return "", err
	}

	switch pred.Status {
	case predictionSucceeded:
		outputURL, ok := firstOutputURL(pred.Output)
		if !ok {
			return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
				platformerrors.ErrorTypeBackgroundRemoval,
				"background removal succeeded without an output URL",
				nil, "replicate-removal-empty-output")
		}
		s.log.Info().Str("prediction_id", pred.ID).Msg("background removal succeeded")
		return outputURL, nil
	case predictionFailed:
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeBackgroundRemoval,
			fmt.Sprintf("background removal failed: %s", predictionError(pred.Error)),
			nil, "replicate-removal-failed")
	default:
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeBackgroundRemoval,
			fmt.Sprintf("background removal returned unexpected status %q", pred.Status),
			nil, "replicate-removal-unexpected-status")
	}
}

// resolveVersion returns the pinned version when configured, otherwise
// asks the model registry for the latest published version. Resolution
// happens on every call; nothing is cached between invocations.
func (s *RemovalService) resolveVersion(ctx context.Context, client *resty.Client) (string, error) {
	if v := strings.TrimSpace(s.cfg.RemovalModelVersion); v != "" {
		return v, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	endpoint := joinEndpoint(s.cfg.ReplicateBaseURL, "v1/models/"+s.cfg.RemovalModel)
	resp, err := client.R().SetContext(callCtx).Get(endpoint)
	if err != nil {
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeBackgroundRemoval,
			fmt.Sprintf("resolve removal model version: %v", err),
			nil, "replicate-version-resolve-error")
	}
	if resp.StatusCode() >= 400 {
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeBackgroundRemoval,
			fmt.Sprintf("resolve removal model version: %s", errorDetail(resp.Bytes(), resp.StatusCode())),
			nil, "replicate-version-resolve-http-error")
	}

	var model modelResponse
	if err := json.Unmarshal(resp.Bytes(), &model); err != nil {
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeBackgroundRemoval,
			"failed to parse removal model response",
			err, "replicate-parse-error")
	}
	if model.LatestVersion.ID == "" {
		return "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeBackgroundRemoval,
			fmt.Sprintf("removal model %s has no published version", s.cfg.RemovalModel),
			nil, "replicate-version-missing")
	}
	return model.LatestVersion.ID, nil
}

// submitBlocking posts the prediction with a wait preference so the
// service holds the request open until the run finishes server-side.
func (s *RemovalService) submitBlocking(ctx context.Context, client *resty.Client, version, imageURL string) (*prediction, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	body := map[string]any{
		"version": version,
		"input":   map[string]any{"image": imageURL},
	}
	resp, err := client.R().
		SetContext(callCtx).
		SetHeader("Prefer", "wait").
		SetBody(body).
		Post(joinEndpoint(s.cfg.ReplicateBaseURL, "v1/predictions"))
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeBackgroundRemoval,
			fmt.Sprintf("background removal submit failed: %v", err),
			nil, "replicate-removal-submit-error")
	}
	if resp.StatusCode() >= 400 {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeBackgroundRemoval,
			fmt.Sprintf("background removal submit error: %s", errorDetail(resp.Bytes(), resp.StatusCode())),
			nil, "replicate-removal-http-error")
	}

	var pred prediction
	if err := json.Unmarshal(resp.Bytes(), &pred); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeBackgroundRemoval,
			"failed to parse background removal response",
			err, "replicate-parse-error")
	}
	return &pred, nil
}
