// Package replicate implements the Replicate REST API clients used by the
// pipeline: text-to-image generation and background removal.
package replicate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"
)

const (
	predictionStarting   = "starting"
	predictionProcessing = "processing"
	predictionSucceeded  = "succeeded"
	predictionFailed     = "failed"
	predictionCanceled   = "canceled"
)

const (
	defaultRetryAfter = 10 * time.Second
	maxRetryAfter     = 30 * time.Second
)

// prediction is the wire shape of a Replicate prediction resource.
type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	URLs   predictionURLs  `json:"urls"`
}

type predictionURLs struct {
	Get    string `json:"get,omitempty"`
	Cancel string `json:"cancel,omitempty"`
}

// apiError is the error body Replicate returns on non-2xx responses.
type apiError struct {
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// newRestyClient builds the outbound HTTP client. Timeouts are enforced
// per request through contexts, and retries live above this layer.
func newRestyClient(token string) *resty.Client {
	client := resty.New()
	client.SetRetryCount(0) // We handle retries at a higher level
	client.SetHeader("Authorization", fmt.Sprintf("Bearer %s", token))
	client.SetHeader("Content-Type", "application/json")
	return client
}

// joinEndpoint joins the API base URL with a path.
func joinEndpoint(baseURL, path string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

func isTerminalStatus(status string) bool {
	return status == predictionSucceeded || status == predictionFailed || status == predictionCanceled
}

func isActiveStatus(status string) bool {
	return status == predictionStarting || status == predictionProcessing
}

// firstOutputURL extracts the output URL from a succeeded prediction. The
// API returns either a scalar URL or an array; an array yields its first
// element.
func firstOutputURL(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var scalar string
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return scalar, scalar != ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0], list[0] != ""
	}
	return "", false
}

// predictionError renders the service-provided error of a terminal
// prediction, which may be a JSON string or an arbitrary object.
func predictionError(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "no error detail provided"
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil && msg != "" {
		return msg
	}
	return string(raw)
}

// errorDetail renders a non-2xx response body for logs and wrapped errors.
func errorDetail(body []byte, statusCode int) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Detail != "" {
		return apiErr.Detail
	}
	if len(body) > 0 {
		return fmt.Sprintf("status %d: %s", statusCode, string(body))
	}
	return fmt.Sprintf("status %d", statusCode)
}

// retryAfterHint reads the wait the service asked for on a 429, from the
// Retry-After header or the retry_after body field. Missing hints default
// to 10s; hints are capped at 30s.
func retryAfterHint(resp *resty.Response) time.Duration {
	hint := defaultRetryAfter
	if header := resp.Header().Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
			hint = time.Duration(secs) * time.Second
		}
	} else {
		var apiErr apiError
		if err := json.Unmarshal(resp.Bytes(), &apiErr); err == nil && apiErr.RetryAfter > 0 {
			hint = time.Duration(apiErr.RetryAfter) * time.Second
		}
	}
	if hint > maxRetryAfter {
		hint = maxRetryAfter
	}
	return hint
}
