package upload

import (
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/service"
	"bitwise74/asset-api/pkg/validators"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type initBody struct {
	Filename string `json:"filename" binding:"required,max=255,safefilename"`
	MimeType string `json:"mime_type" binding:"required,mediatype"`
	FileSize int64  `json:"file_size" binding:"required,gt=0"`
	Folder   string `json:"folder" binding:"omitempty,max=1024,safefolder"`
}

func UploadInit(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	var data initBody
	if err := c.ShouldBindJSON(&data); err != nil {
		if verr, ok := bindFields(err); ok {
			// Tags can't see the configured limits, report those as well
			verr.Merge(validators.ValidateUpload(validators.UploadRequest{
				Filename: data.Filename,
				MimeType: validators.NormalizeMime(data.MimeType),
				Size:     data.FileSize,
				Folder:   data.Folder,
			}, d.Uploader.Rules))

			writeError(c, requestID, verr)
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Malformed or invalid JSON request body",
			"requestID": requestID,
		})

		zap.L().Debug("Can't bind request body", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	s, err := d.Uploader.Init(c.Request.Context(), service.InitRequest{
		UserID:   userID,
		Filename: data.Filename,
		MimeType: data.MimeType,
		Size:     data.FileSize,
		Folder:   data.Folder,
	})
	if err != nil {
		writeError(c, requestID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_token":   s.Token,
		"chunk_size":      s.ChunkSize,
		"expected_chunks": s.ExpectedChunks,
		"expires_at":      s.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
