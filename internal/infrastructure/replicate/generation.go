package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"github.com/closetspace/asset-api/internal/config"
	"github.com/closetspace/asset-api/internal/utils/platformerrors"
)

// maxSubmitAttempts bounds submission tries per model candidate.
const maxSubmitAttempts = 3

// GenerationService turns text prompts into image bytes through the
// Replicate predictions API.
type GenerationService struct {
	cfg *config.Config
	log zerolog.Logger
}

// NewGenerationService creates a GenerationService.
func NewGenerationService(cfg *config.Config, log zerolog.Logger) *GenerationService {
	return &GenerationService{
		cfg: cfg,
		log: log.With().Str("component", "replicate_generation").Logger(),
	}
}

// GenerationResult carries the outcome of a successful generation.
type GenerationResult struct {
	Data        []byte
	ContentType string
	OutputURL   string
	Model       string
	Duration    time.Duration
}

// Generate submits the prompt to each configured model candidate in order
// until one accepts, long-polls the prediction to a terminal state, and
// downloads the output. A pinned version is tried before the fallback
// aliases; candidates are attempted sequentially, never in parallel.
func (s *GenerationService) Generate(ctx context.Context, prompt string) (*GenerationResult, error) {
	start := time.Now()
	client := newRestyClient(s.cfg.ReplicateAPIToken)

	var lastErr error
	for _, candidate := range s.cfg.GenerationCandidates() {
		pred, err := s.submit(ctx, client, candidate, prompt)
		if err != nil {
			lastErr = err
			s.log.Warn().Err(err).Str("model", candidate).Msg("generation candidate failed, trying next")
			continue
		}
		// First accepted submission decides the run; later candidates are
		// only for submission-level fallback.
		return s.await(ctx, client, pred, candidate, start)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no generation model candidates configured")
	}
	return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
		platformerrors.ErrorTypeGeneration,
		"all generation model candidates failed",
		lastErr, "replicate-generation-exhausted")
}

// submitRequest builds the endpoint and body for one candidate. A pinned
// version id goes to the generic predictions endpoint; an owner/name alias
// goes to the model-scoped one.
func (s *GenerationService) submitRequest(model, prompt string) (string, map[string]any) {
	input := map[string]any{"prompt": prompt}
	if strings.Contains(model, "/") {
		endpoint := joinEndpoint(s.cfg.ReplicateBaseURL, fmt.Sprintf("v1/models/%s/predictions", model))
		return endpoint, map[string]any{"input": input}
	}
	endpoint := joinEndpoint(s.cfg.ReplicateBaseURL, "v1/predictions")
	return endpoint, map[string]any{"version": model, "input": input}
}

func (s *GenerationService) submit(ctx context.Context, client *resty.Client, model, prompt string) (*prediction, error) {
	endpoint, body := s.submitRequest(model, prompt)

	var lastErr error
	for attempt := 1; attempt <= maxSubmitAttempts; attempt++ {
		pred, retryable, wait, err := s.submitOnce(ctx, client, endpoint, body)
		if err == nil {
			return pred, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if attempt == maxSubmitAttempts {
			break
		}
		if wait > 0 {
			s.log.Debug().Dur("wait", wait).Str("model", model).Int("attempt", attempt).Msg("generation rate limited, backing off")
			if err := sleepContext(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// submitOnce posts one submission. retryable reports whether the caller may
// try this candidate again; wait carries the 429 retry-after hint.
func (s *GenerationService) submitOnce(ctx context.Context, client *resty.Client, endpoint string, body map[string]any) (pred *prediction, retryable bool, wait time.Duration, err error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	resp, err := client.R().
		SetContext(callCtx).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return nil, true, 0, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			fmt.Sprintf("generation submit failed: %v", err),
			nil, "replicate-submit-error")
	}

	raw := resp.Bytes()
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, true, retryAfterHint(resp), platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			"generation submit rate limited",
			nil, "replicate-rate-limited")
	case resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusUnprocessableEntity:
		// Model or version unavailable, or input rejected. Retrying the
		// same candidate cannot help; fall through to the next one.
		return nil, false, 0, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			fmt.Sprintf("generation model rejected submission: %s", errorDetail(raw, resp.StatusCode())),
			nil, "replicate-model-rejected")
	case resp.StatusCode() >= 400:
		return nil, true, 0, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			fmt.Sprintf("generation submit error: %s", errorDetail(raw, resp.StatusCode())),
			nil, "replicate-submit-http-error")
	}

	var p prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, 0, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			"failed to parse generation submit response",
			err, "replicate-parse-error")
	}
	return &p, false, 0, nil
}

// await long-polls the prediction until a terminal state, then downloads
// the output. The poll ceiling is a hard failure, never a silent pass.
func (s *GenerationService) await(ctx context.Context, client *resty.Client, pred *prediction, model string, start time.Time) (*GenerationResult, error) {
	if !isTerminalStatus(pred.Status) && pred.URLs.Get == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			fmt.Sprintf("generation prediction %s has no poll URL", pred.ID),
			nil, "replicate-missing-poll-url")
	}

	deadline := time.Now().Add(s.cfg.PollCeiling)
	for !isTerminalStatus(pred.Status) {
		if !isActiveStatus(pred.Status) {
			break
		}
		if time.Now().After(deadline) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
				platformerrors.ErrorTypeGeneration,
				fmt.Sprintf("generation did not reach a terminal state within %s", s.cfg.PollCeiling),
				nil, "replicate-poll-timeout")
		}
		if err := sleepContext(ctx, s.cfg.PollInterval); err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
				platformerrors.ErrorTypeGeneration,
				"generation polling canceled",
				err, "replicate-poll-canceled")
		}
		refreshed, err := s.pollOnce(ctx, client, pred.URLs.Get)
		if err != nil {
			return nil, err
		}
		pred = refreshed
	}

	switch pred.Status {
	case predictionSucceeded:
		outputURL, ok := firstOutputURL(pred.Output)
		if !ok {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
				platformerrors.ErrorTypeGeneration,
				"generation succeeded without an output URL",
				nil, "replicate-empty-output")
		}
		data, contentType, err := s.download(ctx, outputURL)
		if err != nil {
			return nil, err
		}
		s.log.Info().
			Str("model", model).
			Str("prediction_id", pred.ID).
			Dur("duration", time.Since(start)).
			Int("bytes", len(data)).
			Msg("generation succeeded")
		return &GenerationResult{
			Data:        data,
			ContentType: contentType,
			OutputURL:   outputURL,
			Model:       model,
			Duration:    time.Since(start),
		}, nil
	case predictionFailed, predictionCanceled:
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			fmt.Sprintf("generation %s: %s", pred.Status, predictionError(pred.Error)),
			nil, "replicate-prediction-failed")
	default:
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			fmt.Sprintf("generation returned unexpected status %q", pred.Status),
			nil, "replicate-unexpected-status")
	}
}

func (s *GenerationService) pollOnce(ctx context.Context, client *resty.Client, pollURL string) (*prediction, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	resp, err := client.R().SetContext(callCtx).Get(pollURL)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			fmt.Sprintf("generation poll failed: %v", err),
			nil, "replicate-poll-error")
	}
	if resp.StatusCode() >= 400 {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			fmt.Sprintf("generation poll error: %s", errorDetail(resp.Bytes(), resp.StatusCode())),
			nil, "replicate-poll-http-error")
	}

	var p prediction
	if err := json.Unmarshal(resp.Bytes(), &p); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			"failed to parse generation poll response",
			err, "replicate-parse-error")
	}
	return &p, nil
}

// download fetches the generated image. The output lives on a public CDN,
// so the authorized API client is not reused here.
func (s *GenerationService) download(ctx context.Context, url string) ([]byte, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	resp, err := resty.New().R().SetContext(callCtx).Get(url)
	if err != nil {
		return nil, "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			fmt.Sprintf("download generated image: %v", err),
			nil, "replicate-download-error")
	}
	if resp.StatusCode() >= 400 {
		return nil, "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			fmt.Sprintf("download generated image: status %d", resp.StatusCode()),
			nil, "replicate-download-http-error")
	}
	data := resp.Bytes()
	if len(data) == 0 {
		return nil, "", platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeGeneration,
			"generated image download was empty",
			nil, "replicate-empty-download")
	}
	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}

// sleepContext waits for d unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
