package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/closetspace/asset-api/internal/config"
	"github.com/closetspace/asset-api/internal/domain/asset"
	"github.com/closetspace/asset-api/internal/infrastructure/auth"
	"github.com/closetspace/asset-api/internal/interfaces/httpserver/requests"
	"github.com/closetspace/asset-api/internal/interfaces/httpserver/responses"
	"github.com/closetspace/asset-api/internal/utils/platformerrors"
)

// Pipeline is the slice of the asset service the handlers drive.
type Pipeline interface {
	ProcessUpload(ctx context.Context, input asset.UploadInput) (*asset.Result, error)
	GenerateFromPrompt(ctx context.Context, input asset.GenerateInput) (*asset.Result, error)
	GetStatus(ctx context.Context, itemID, ownerID string) (*asset.Item, error)
}

// AssetHandler exposes the wardrobe image pipeline endpoints.
type AssetHandler struct {
	cfg     *config.Config
	service Pipeline
	log     zerolog.Logger
}

func NewAssetHandler(cfg *config.Config, service Pipeline, log zerolog.Logger) *AssetHandler {
	return &AssetHandler{
		cfg:     cfg,
		service: service,
		log:     log.With().Str("component", "asset-handler").Logger(),
	}
}

// UploadImage godoc
// @Summary      Upload a wardrobe item image
// @Description  Accepts a multipart image, optionally removes its background, and stores the processed result.
// @Tags         items
// @Accept       multipart/form-data
// @Produce      json
// @Param        item_id            path      string  true   "Wardrobe item ID"
// @Param        file               formData  file    true   "Image file (jpeg, png, webp or gif)"
// @Param        remove_background  formData  boolean false  "Remove the image background (default true)"
// @Success      200  {object}  responses.ProcessResponse
// @Failure      400  {object}  responses.ErrorResponse
// @Failure      401  {object}  responses.ErrorResponse
// @Failure      403  {object}  responses.ErrorResponse
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      502  {object}  responses.ErrorResponse
// @Security     BearerAuth
// @Router       /v1/items/{item_id}/image [post]
func (h *AssetHandler) UploadImage(c *gin.Context) {
	itemID := c.Param("item_id")
	ownerID := c.GetString(auth.OwnerIDKey)
	if ownerID == "" {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "caller identity missing", "asset-upload-no-owner")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "multipart field 'file' is required", "asset-upload-missing-file")
		return
	}
	defer file.Close()

	// Read one byte past the ceiling so the service can reject oversized
	// uploads without the handler buffering arbitrarily large bodies.
	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxSourceBytes+1))
	if err != nil {
		h.log.Error().Err(err).Str("item_id", itemID).Msg("reading upload failed")
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "could not read uploaded file", "asset-upload-read-error")
		return
	}

	removeBackground := true
	if raw, ok := c.GetPostForm("remove_background"); ok {
		removeBackground, err = strconv.ParseBool(raw)
		if err != nil {
			responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "remove_background must be a boolean", "asset-upload-bad-flag")
			return
		}
	}

	result, err := h.service.ProcessUpload(c.Request.Context(), asset.UploadInput{
		ItemID:           itemID,
		OwnerID:          ownerID,
		Data:             data,
		DeclaredMIME:     header.Header.Get("Content-Type"),
		RemoveBackground: removeBackground,
	})
	if err != nil {
		h.log.Error().Err(err).Str("item_id", itemID).Msg("upload processing failed")
		responses.HandleError(c, err, "failed to process uploaded image")
		return
	}

	c.JSON(http.StatusOK, responses.BuildProcessResponse(result))
}

// GenerateImage godoc
// @Summary      Generate a wardrobe item image from a prompt
// @Description  Generates an image via the model pipeline, removes its background, and stores the processed result.
// @Tags         items
// @Accept       json
// @Produce      json
// @Param        item_id  path      string                         true  "Wardrobe item ID"
// @Param        request  body      requests.GenerateImageRequest  true  "Generation request"
// @Success      200  {object}  responses.ProcessResponse
// @Failure      400  {object}  responses.ErrorResponse
// @Failure      401  {object}  responses.ErrorResponse
// @Failure      403  {object}  responses.ErrorResponse
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      502  {object}  responses.ErrorResponse
// @Security     BearerAuth
// @Router       /v1/items/{item_id}/image/generate [post]
func (h *AssetHandler) GenerateImage(c *gin.Context) {
	itemID := c.Param("item_id")
	ownerID := c.GetString(auth.OwnerIDKey)
	if ownerID == "" {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "caller identity missing", "asset-generate-no-owner")
		return
	}

	var req requests.GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "prompt is required", "asset-generate-bad-request")
		return
	}

	result, err := h.service.GenerateFromPrompt(c.Request.Context(), req.ToDomain(itemID, ownerID))
	if err != nil {
		h.log.Error().Err(err).Str("item_id", itemID).Msg("generation failed")
		responses.HandleError(c, err, "failed to generate image")
		return
	}

	c.JSON(http.StatusOK, responses.BuildProcessResponse(result))
}

// GetStatus godoc
// @Summary      Get processing status of a wardrobe item image
// @Description  Returns the current pipeline status and image URL of a wardrobe item.
// @Tags         items
// @Produce      json
// @Param        item_id  path      string  true  "Wardrobe item ID"
// @Success      200  {object}  responses.ItemStatusResponse
// @Failure      401  {object}  responses.ErrorResponse
// @Failure      403  {object}  responses.ErrorResponse
// @Failure      404  {object}  responses.ErrorResponse
// @Security     BearerAuth
// @Router       /v1/items/{item_id}/image/status [get]
func (h *AssetHandler) GetStatus(c *gin.Context) {
	itemID := c.Param("item_id")
	ownerID := c.GetString(auth.OwnerIDKey)
	if ownerID == "" {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "caller identity missing", "asset-status-no-owner")
		return
	}

	item, err := h.service.GetStatus(c.Request.Context(), itemID, ownerID)
	if err != nil {
		responses.HandleError(c, err, "failed to load item status")
		return
	}

	c.JSON(http.StatusOK, responses.BuildItemStatusResponse(item))
}
