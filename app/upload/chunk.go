package upload

import (
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/pkg/middleware"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func UploadChunk(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	// Parses the whole form, read it first so an oversized body shows up here
	fh, err := c.FormFile("chunk")
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			writeError(c, requestID, err)
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "No chunk provided",
			"requestID": requestID,
		})

		zap.L().Debug("Failed to read chunk form file", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	token := c.PostForm("session_token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "No session token provided",
			"requestID": requestID,
		})
		return
	}

	n, err := strconv.Atoi(c.PostForm("chunk_number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Chunk number must be a number",
			"requestID": requestID,
		})
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeError(c, requestID, err)
		return
	}
	defer f.Close()

	s, err := d.Uploader.ReceiveChunk(c.Request.Context(), userID, token, n, f, fh.Size)
	if err != nil {
		writeError(c, requestID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"chunk_number": n,
		"received":     len(s.Received),
		"expected":     s.ExpectedChunks,
	})
}
