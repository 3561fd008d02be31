// Package upload contains the handlers of the chunked and direct upload
// endpoints
package upload

import (
	"bitwise74/asset-api/internal/service"
	"bitwise74/asset-api/pkg/middleware"
	"bitwise74/asset-api/pkg/validators"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps upload errors to a response. Anything unknown is a 500.
func writeError(c *gin.Context, requestID string, err error) {
	var (
		verr *validators.ValidationError
		inc  *service.IncompleteUploadError
	)

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Validation failed",
			"fields":    verr.Fields,
			"requestID": requestID,
		})
	case errors.As(err, &inc):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "Upload is missing chunks",
			"missing":   inc.Missing,
			"requestID": requestID,
		})
	case errors.Is(err, validators.ErrNoSpace):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "Not enough storage space",
			"requestID": requestID,
		})
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "Upload session not found or expired",
			"requestID": requestID,
		})
	case errors.Is(err, service.ErrInvalidChunkNumber), errors.Is(err, service.ErrChunkSize):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
	case errors.Is(err, service.ErrSizeMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "Uploaded size doesn't match the declared size",
			"requestID": requestID,
		})
	case errors.Is(err, service.ErrUnsupportedContent):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error":     "Unsupported file content",
			"requestID": requestID,
		})
	case middleware.IsBodyTooLarge(err):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":     "Request body size exceeds limit",
			"requestID": requestID,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Upload failed", zap.Error(err), zap.String("requestID", requestID))
	}
}

// bindFields returns the field errors of a failed bind. Anything else, like
// malformed JSON, is reported as false.
func bindFields(err error) (*validators.ValidationError, bool) {
	var verr *validators.ValidationError
	if errors.As(validators.FromValidator(err), &verr) {
		return verr, true
	}

	return nil, false
}
