package replicate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/closetspace/asset-api/internal/config"
	"github.com/closetspace/asset-api/internal/infrastructure/replicate"
	"github.com/closetspace/asset-api/internal/utils/platformerrors"
)

func removalConfig(baseURL string) *config.Config {
	return &config.Config{
		ReplicateAPIToken:    "test-token",
		ReplicateBaseURL:     baseURL,
		RemovalModel:         "acme/background-remover",
		MaxBgRemovalAttempts: 3,
		SubmitTimeout:        2 * time.Second,
		PollTimeout:          2 * time.Second,
		DownloadTimeout:      2 * time.Second,
	}
}

func TestRemoveBackground_Succeeds(t *testing.T) {
	var submitBody map[string]any
	var preferHeader string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models/acme/background-remover", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"latest_version": map[string]string{"id": "version-42"},
		})
	})
	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		preferHeader = r.Header.Get("Prefer")
		if err := json.NewDecoder(r.Body).Decode(&submitBody); err != nil {
			t.Errorf("decode submit body: %v", err)
			return
		}
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"id":     "rem-1",
			"status": "succeeded",
			"output": []string{"https://cdn.example.com/cutout.png"},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	got, err := replicate.NewRemovalService(removalConfig(ts.URL), zerolog.Nop()).
		RemoveBackground(context.Background(), "https://assets.example.com/original/u1/item1.jpg")
	if err != nil {
		t.Fatalf("RemoveBackground() error = %v", err)
	}

	if got != "https://cdn.example.com/cutout.png" {
		t.Errorf("RemoveBackground() = %q", got)
	}
	if preferHeader != "wait" {
		t.Errorf("Prefer header = %q, want wait", preferHeader)
	}
	if submitBody["version"] != "version-42" {
		t.Errorf("submit version = %v, want resolved latest version", submitBody["version"])
	}
	input, _ := submitBody["input"].(map[string]any)
	if input["image"] != "https://assets.example.com/original/u1/item1.jpg" {
		t.Errorf("submit image = %v", input["image"])
	}
}

func TestRemoveBackground_PinnedVersionSkipsRegistry(t *testing.T) {
	var registryCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models/", func(w http.ResponseWriter, r *http.Request) {
		registryCalls.Add(1)
		writeJSON(t, w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"id":     "rem-2",
			"status": "succeeded",
			"output": "https://cdn.example.com/cutout.png",
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	cfg := removalConfig(ts.URL)
	cfg.RemovalModelVersion = "pinned-version"

	if _, err := replicate.NewRemovalService(cfg, zerolog.Nop()).
		RemoveBackground(context.Background(), "https://assets.example.com/o.jpg"); err != nil {
		t.Fatalf("RemoveBackground() error = %v", err)
	}
	if n := registryCalls.Load(); n != 0 {
		t.Errorf("registry lookups = %d, want 0 with a pinned version", n)
	}
}

func TestRemoveBackground_ResolvesVersionEveryAttempt(t *testing.T) {
	var registryCalls, submits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models/acme/background-remover", func(w http.ResponseWriter, r *http.Request) {
		registryCalls.Add(1)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"latest_version": map[string]string{"id": "version-42"},
		})
	})
	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		if submits.Add(1) == 1 {
			writeJSON(t, w, http.StatusInternalServerError, map[string]any{"detail": "transient"})
			return
		}
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"id":     "rem-3",
			"status": "succeeded",
			"output": "https://cdn.example.com/cutout.png",
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	if _, err := replicate.NewRemovalService(removalConfig(ts.URL), zerolog.Nop()).
		RemoveBackground(context.Background(), "https://assets.example.com/o.jpg"); err != nil {
		t.Fatalf("RemoveBackground() error = %v", err)
	}
	// No caching between attempts: the second attempt resolves again.
	if n := registryCalls.Load(); n != 2 {
		t.Errorf("registry lookups = %d, want 2", n)
	}
	if n := submits.Load(); n != 2 {
		t.Errorf("submits = %d, want 2", n)
	}
}

func TestRemoveBackground_ExhaustsAttempts(t *testing.T) {
	var submits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models/acme/background-remover", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"latest_version": map[string]string{"id": "version-42"},
		})
	})
	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		submits.Add(1)
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"id":     "rem-4",
			"status": "failed",
			"error":  "model overloaded",
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	_, err := replicate.NewRemovalService(removalConfig(ts.URL), zerolog.Nop()).
		RemoveBackground(context.Background(), "https://assets.example.com/o.jpg")
	if err == nil {
		t.Fatal("RemoveBackground() expected error after exhausting attempts")
	}

	if n := submits.Load(); n != 3 {
		t.Errorf("submits = %d, want 3", n)
	}
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeBackgroundRemoval) {
		t.Errorf("error type = %v, want background removal", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error %q should report the attempt budget", err)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("error %q should carry the service message", err)
	}
}

func TestRemoveBackground_UnexpectedStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models/acme/background-remover", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"latest_version": map[string]string{"id": "version-42"},
		})
	})
	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"id":     "rem-5",
			"status": "canceled",
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	cfg := removalConfig(ts.URL)
	cfg.MaxBgRemovalAttempts = 1

	_, err := replicate.NewRemovalService(cfg, zerolog.Nop()).
		RemoveBackground(context.Background(), "https://assets.example.com/o.jpg")
	if err == nil {
		t.Fatal("RemoveBackground() expected error")
	}
	if !strings.Contains(err.Error(), "unexpected status") {
		t.Errorf("unexpected error: %v", err)
	}
}
