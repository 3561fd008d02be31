package upload

import (
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/service"
	"bitwise74/asset-api/pkg/middleware"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

type directForm struct {
	File   *multipart.FileHeader `form:"file" binding:"required"`
	Folder string                `form:"folder" binding:"omitempty,max=1024,safefolder"`
}

// UploadDirect stores a file smaller than one chunk sent as a single
// multipart request
func UploadDirect(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	var form directForm
	if err := c.ShouldBindWith(&form, binding.FormMultipart); err != nil {
		if verr, ok := bindFields(err); ok {
			writeError(c, requestID, verr)
			return
		}

		if middleware.IsBodyTooLarge(err) {
			writeError(c, requestID, err)
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Malformed multipart request body",
			"requestID": requestID,
		})

		zap.L().Debug("Can't bind multipart form", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	fh := form.File

	f, err := fh.Open()
	if err != nil {
		writeError(c, requestID, err)
		return
	}
	defer f.Close()

	// Plenty of clients send everything as octet-stream
	declared := fh.Header.Get("Content-Type")
	if declared == "" || declared == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(fh.Filename)); byExt != "" {
			declared = byExt
		}
	}

	asset, err := d.Uploader.Direct(c.Request.Context(), service.InitRequest{
		UserID:   userID,
		Filename: fh.Filename,
		MimeType: declared,
		Size:     fh.Size,
		Folder:   form.Folder,
	}, f)
	if err != nil {
		writeError(c, requestID, err)
		return
	}

	c.JSON(http.StatusCreated, asset)
}
