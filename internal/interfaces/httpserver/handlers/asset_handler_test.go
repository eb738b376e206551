package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/closetspace/asset-api/internal/config"
	"github.com/closetspace/asset-api/internal/domain/asset"
	"github.com/closetspace/asset-api/internal/infrastructure/auth"
	"github.com/closetspace/asset-api/internal/interfaces/httpserver/handlers"
	"github.com/closetspace/asset-api/internal/utils/platformerrors"
)

// MockPipeline is a mock implementation of the handlers.Pipeline interface.
type MockPipeline struct {
	ProcessUploadFunc      func(ctx context.Context, input asset.UploadInput) (*asset.Result, error)
	GenerateFromPromptFunc func(ctx context.Context, input asset.GenerateInput) (*asset.Result, error)
	GetStatusFunc          func(ctx context.Context, itemID, ownerID string) (*asset.Item, error)
}

func (m *MockPipeline) ProcessUpload(ctx context.Context, input asset.UploadInput) (*asset.Result, error) {
	if m.ProcessUploadFunc != nil {
		return m.ProcessUploadFunc(ctx, input)
	}
	return nil, nil
}

func (m *MockPipeline) GenerateFromPrompt(ctx context.Context, input asset.GenerateInput) (*asset.Result, error) {
	if m.GenerateFromPromptFunc != nil {
		return m.GenerateFromPromptFunc(ctx, input)
	}
	return nil, nil
}

func (m *MockPipeline) GetStatus(ctx context.Context, itemID, ownerID string) (*asset.Item, error) {
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, itemID, ownerID)
	}
	return nil, nil
}

func handlerTestConfig() *config.Config {
	return &config.Config{
		ServiceName:    "asset-api",
		MaxSourceBytes: 10 * 1024 * 1024,
		AuthEnabled:    false,
	}
}

func setupAssetTestRouter(t *testing.T, mockService *MockPipeline) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := handlerTestConfig()
	validator, err := auth.NewValidator(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	handler := handlers.NewAssetHandler(cfg, mockService, zerolog.Nop())

	r := gin.New()
	items := r.Group("/v1/items")
	items.Use(validator.Middleware())
	items.POST("/:item_id/image", handler.UploadImage)
	items.POST("/:item_id/image/generate", handler.GenerateImage)
	items.GET("/:item_id/image/status", handler.GetStatus)
	return r
}

// multipartUpload builds a multipart body with an explicit Content-Type on
// the file part, plus any extra form fields.
func multipartUpload(t *testing.T, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="upload%s"`, ".bin"))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("writing part: %v", err)
	}

	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	return buf, w.FormDataContentType()
}

func TestAssetHandler_UploadImage(t *testing.T) {
	var captured asset.UploadInput
	mockService := &MockPipeline{
		ProcessUploadFunc: func(ctx context.Context, input asset.UploadInput) (*asset.Result, error) {
			captured = input
			return &asset.Result{
				ImageURL:          "http://cdn.test/wardrobe-assets/processed/owner-1/item-1.png",
				StoragePath:       "processed/owner-1/item-1.png",
				BackgroundRemoved: true,
			}, nil
		},
	}
	router := setupAssetTestRouter(t, mockService)

	body, contentType := multipartUpload(t, "image/jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01}, map[string]string{
		"remove_background": "true",
	})
	req, _ := http.NewRequest("POST", "/v1/items/item-1/image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "owner-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if captured.ItemID != "item-1" {
		t.Errorf("Expected item id 'item-1', got %q", captured.ItemID)
	}
	if captured.OwnerID != "owner-1" {
		t.Errorf("Expected owner id 'owner-1', got %q", captured.OwnerID)
	}
	if captured.DeclaredMIME != "image/jpeg" {
		t.Errorf("Expected declared MIME from the part header, got %q", captured.DeclaredMIME)
	}
	if !captured.RemoveBackground {
		t.Error("Expected remove_background=true to be passed through")
	}
	if len(captured.Data) != 5 {
		t.Errorf("Expected 5 uploaded bytes, got %d", len(captured.Data))
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["success"] != true {
		t.Errorf("Expected success=true, got %v", response["success"])
	}
	if response["image_url"] != "http://cdn.test/wardrobe-assets/processed/owner-1/item-1.png" {
		t.Errorf("Unexpected image_url %v", response["image_url"])
	}
	if _, ok := response["background_removal_status"]; ok {
		t.Error("Full success must not carry background_removal_status")
	}
}

func TestAssetHandler_UploadImage_DefaultsRemoveBackground(t *testing.T) {
	var captured asset.UploadInput
	mockService := &MockPipeline{
		ProcessUploadFunc: func(ctx context.Context, input asset.UploadInput) (*asset.Result, error) {
			captured = input
			return &asset.Result{ImageURL: "http://cdn.test/x.png"}, nil
		},
	}
	router := setupAssetTestRouter(t, mockService)

	body, contentType := multipartUpload(t, "image/png", []byte{0x89, 0x50, 0x4E, 0x47}, nil)
	req, _ := http.NewRequest("POST", "/v1/items/item-1/image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "owner-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !captured.RemoveBackground {
		t.Error("Absent remove_background field must default to true")
	}
}

func TestAssetHandler_UploadImage_PartialSuccess(t *testing.T) {
	mockService := &MockPipeline{
		ProcessUploadFunc: func(ctx context.Context, input asset.UploadInput) (*asset.Result, error) {
			return &asset.Result{
				ImageURL:              "http://cdn.test/wardrobe-assets/original/owner-1/item-1_1.jpg",
				StoragePath:           "original/owner-1/item-1_1.jpg",
				RemovalFailed:         true,
				RemovalFailureMessage: "background removal failed, kept original image",
			}, nil
		},
	}
	router := setupAssetTestRouter(t, mockService)

	body, contentType := multipartUpload(t, "image/jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, nil)
	req, _ := http.NewRequest("POST", "/v1/items/item-1/image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "owner-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on degraded success, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["success"] != true {
		t.Errorf("Expected success=true, got %v", response["success"])
	}
	if response["background_removal_status"] != "failed" {
		t.Errorf("Expected background_removal_status 'failed', got %v", response["background_removal_status"])
	}
	if response["message"] == "" || response["message"] == nil {
		t.Error("Expected a message explaining the degraded result")
	}
}

func TestAssetHandler_UploadImage_MissingFile(t *testing.T) {
	called := false
	mockService := &MockPipeline{
		ProcessUploadFunc: func(ctx context.Context, input asset.UploadInput) (*asset.Result, error) {
			called = true
			return nil, nil
		},
	}
	router := setupAssetTestRouter(t, mockService)

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	_ = mw.WriteField("remove_background", "true")
	_ = mw.Close()

	req, _ := http.NewRequest("POST", "/v1/items/item-1/image", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Owner-ID", "owner-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if called {
		t.Error("Pipeline must not run without a file")
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["error_code"] != "VALIDATION_ERROR" {
		t.Errorf("Expected error_code VALIDATION_ERROR, got %v", response["error_code"])
	}
	if response["success"] != false {
		t.Errorf("Expected success=false, got %v", response["success"])
	}
}

func TestAssetHandler_UploadImage_BadFlag(t *testing.T) {
	mockService := &MockPipeline{}
	router := setupAssetTestRouter(t, mockService)

	body, contentType := multipartUpload(t, "image/jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, map[string]string{
		"remove_background": "sometimes",
	})
	req, _ := http.NewRequest("POST", "/v1/items/item-1/image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "owner-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
}

func TestAssetHandler_UploadImage_NoOwner(t *testing.T) {
	mockService := &MockPipeline{}
	router := setupAssetTestRouter(t, mockService)

	body, contentType := multipartUpload(t, "image/jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, nil)
	req, _ := http.NewRequest("POST", "/v1/items/item-1/image", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["error_code"] != "AUTH_FAILED" {
		t.Errorf("Expected error_code AUTH_FAILED, got %v", response["error_code"])
	}
}

func TestAssetHandler_UploadImage_ServiceError(t *testing.T) {
	mockService := &MockPipeline{
		ProcessUploadFunc: func(ctx context.Context, input asset.UploadInput) (*asset.Result, error) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
				platformerrors.ErrorTypeForbidden, "item belongs to another owner", nil, "item-owner-mismatch")
		},
	}
	router := setupAssetTestRouter(t, mockService)

	body, contentType := multipartUpload(t, "image/jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, nil)
	req, _ := http.NewRequest("POST", "/v1/items/item-9/image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "owner-2")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["error_code"] != "AUTH_FAILED" {
		t.Errorf("Ownership failures share the AUTH_FAILED code, got %v", response["error_code"])
	}
}

func TestAssetHandler_GenerateImage(t *testing.T) {
	var captured asset.GenerateInput
	mockService := &MockPipeline{
		GenerateFromPromptFunc: func(ctx context.Context, input asset.GenerateInput) (*asset.Result, error) {
			captured = input
			return &asset.Result{
				ImageURL:           "http://cdn.test/wardrobe-assets/processed/owner-1/item-1.png",
				StoragePath:        "processed/owner-1/item-1.png",
				BackgroundRemoved:  true,
				GenerationDuration: 2 * time.Second,
				CostUnits:          "0.006",
			}, nil
		},
	}
	router := setupAssetTestRouter(t, mockService)

	payload := strings.NewReader(`{"prompt": "red wool peacoat"}`)
	req, _ := http.NewRequest("POST", "/v1/items/item-1/image/generate", payload)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "owner-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if captured.Prompt != "red wool peacoat" {
		t.Errorf("Expected prompt to pass through, got %q", captured.Prompt)
	}
	if captured.ItemID != "item-1" || captured.OwnerID != "owner-1" {
		t.Errorf("Unexpected identifiers: %+v", captured)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["generation_duration_ms"] != float64(2000) {
		t.Errorf("Expected generation_duration_ms 2000, got %v", response["generation_duration_ms"])
	}
	if response["cost_units"] != "0.006" {
		t.Errorf("Expected cost_units '0.006', got %v", response["cost_units"])
	}
}

func TestAssetHandler_GenerateImage_MissingPrompt(t *testing.T) {
	called := false
	mockService := &MockPipeline{
		GenerateFromPromptFunc: func(ctx context.Context, input asset.GenerateInput) (*asset.Result, error) {
			called = true
			return nil, nil
		},
	}
	router := setupAssetTestRouter(t, mockService)

	req, _ := http.NewRequest("POST", "/v1/items/item-1/image/generate", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "owner-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if called {
		t.Error("Pipeline must not run without a prompt")
	}
}

func TestAssetHandler_GetStatus(t *testing.T) {
	startedAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	imageURL := "http://cdn.test/wardrobe-assets/processed/owner-1/item-1.png"
	mockService := &MockPipeline{
		GetStatusFunc: func(ctx context.Context, itemID, ownerID string) (*asset.Item, error) {
			return &asset.Item{
				ID:                  itemID,
				OwnerID:             ownerID,
				ProcessingStatus:    asset.StatusCompleted,
				ProcessingStartedAt: &startedAt,
				ImageURL:            &imageURL,
			}, nil
		},
	}
	router := setupAssetTestRouter(t, mockService)

	req, _ := http.NewRequest("GET", "/v1/items/item-1/image/status", nil)
	req.Header.Set("X-Owner-ID", "owner-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["item_id"] != "item-1" {
		t.Errorf("Expected item_id 'item-1', got %v", response["item_id"])
	}
	if response["processing_status"] != "completed" {
		t.Errorf("Expected processing_status 'completed', got %v", response["processing_status"])
	}
	if response["image_url"] != imageURL {
		t.Errorf("Unexpected image_url %v", response["image_url"])
	}
}

func TestAssetHandler_GetStatus_NotFound(t *testing.T) {
	mockService := &MockPipeline{
		GetStatusFunc: func(ctx context.Context, itemID, ownerID string) (*asset.Item, error) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
				platformerrors.ErrorTypeNotFound, "wardrobe item not found", nil, "item-not-found")
		},
	}
	router := setupAssetTestRouter(t, mockService)

	req, _ := http.NewRequest("GET", "/v1/items/missing/image/status", nil)
	req.Header.Set("X-Owner-ID", "owner-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["error_code"] != "NOT_FOUND" {
		t.Errorf("Expected error_code NOT_FOUND, got %v", response["error_code"])
	}
}
