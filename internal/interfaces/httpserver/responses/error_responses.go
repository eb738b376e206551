package responses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/closetspace/asset-api/internal/utils/platformerrors"
)

// ErrorResponse is the error envelope returned by every endpoint. Clients
// branch on ErrorCode, not on the HTTP status.
type ErrorResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	ErrorCode     string `json:"error_code"`
	RequestID     string `json:"request_id,omitempty"`
	ErrorInstance error  `json:"-"`
}

// HandleError handles domain errors and returns appropriate HTTP responses
func HandleError(reqCtx *gin.Context, err error, message string) {
	var domainErr *platformerrors.PlatformError
	if errors.As(err, &domainErr) {
		statusCode := platformerrors.ErrorTypeToHTTPStatus(domainErr.GetErrorType())

		errorMessage := domainErr.Message
		if errorMessage == "" {
			errorMessage = message
		}

		errResp := ErrorResponse{
			Success:       false,
			Error:         errorMessage,
			ErrorCode:     platformerrors.ErrorTypeToCode(domainErr.GetErrorType()),
			RequestID:     domainErr.GetRequestID(),
			ErrorInstance: domainErr,
		}

		reqCtx.AbortWithStatusJSON(statusCode, errResp)
		return
	}
	// Non-platform errors
	errResp := ErrorResponse{
		Success:       false,
		Error:         message,
		ErrorCode:     platformerrors.ErrorTypeToCode(platformerrors.ErrorTypeInternal),
		ErrorInstance: err,
	}
	reqCtx.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
}

// HandleNewError creates a new typed error at the route layer and handles it
func HandleNewError(reqCtx *gin.Context, errorType platformerrors.ErrorType, message string, uuid string) {
	ctx := reqCtx.Request.Context()
	err := platformerrors.NewError(ctx, platformerrors.LayerRoute, errorType, message, nil, uuid)

	statusCode := platformerrors.ErrorTypeToHTTPStatus(err.GetErrorType())

	errResp := ErrorResponse{
		Success:       false,
		Error:         message,
		ErrorCode:     platformerrors.ErrorTypeToCode(err.GetErrorType()),
		RequestID:     err.GetRequestID(),
		ErrorInstance: err,
	}

	reqCtx.AbortWithStatusJSON(statusCode, errResp)
}
