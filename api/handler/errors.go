package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pinpoint/models"
)

// errorResponse is the body of every non-resolve error.
type errorResponse struct {
	Success bool                `json:"success"`
	Error   *models.ErrorDetail `json:"error"`
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case models.ErrCodeInvalidInput, models.ErrCodeDefinitionInvalid, models.ErrCodeRecommendation:
		return http.StatusBadRequest
	case models.ErrCodeSelectorUnknown:
		return http.StatusNotFound
	case models.ErrCodeContextInvalid, models.ErrCodeSelectorExists:
		return http.StatusConflict
	case models.ErrCodeDocumentLoad:
		return http.StatusBadGateway
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// toDetail converts any error into a status and an API error detail.
// Errors that are not EngineErrors are reported as INTERNAL_ERROR.
func toDetail(err error) (int, *models.ErrorDetail) {
	var ee *models.EngineError
	if errors.As(err, &ee) {
		return statusFor(ee.Code), ee.ToDetail()
	}
	return http.StatusInternalServerError, &models.ErrorDetail{
		Code:    models.ErrCodeInternal,
		Message: err.Error(),
	}
}

func respondError(c *gin.Context, err error) {
	status, detail := toDetail(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"path", c.FullPath(),
			"code", detail.Code,
			"error", err,
		)
	}
	c.JSON(status, errorResponse{Success: false, Error: detail})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Success: false,
		Error:   &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: msg},
	})
}
