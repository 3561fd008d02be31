package upload

import (
	"bitwise74/asset-api/internal"
	"net/http"

	"github.com/gin-gonic/gin"
)

type sessionBody struct {
	SessionToken string `json:"session_token" binding:"required"`
}

func UploadComplete(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	var data sessionBody
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "No session token provided",
			"requestID": requestID,
		})
		return
	}

	asset, err := d.Uploader.Complete(c.Request.Context(), userID, data.SessionToken)
	if err != nil {
		writeError(c, requestID, err)
		return
	}

	c.JSON(http.StatusCreated, asset)
}

// UploadAbort always succeeds, there is nothing a client could do about a
// failed cleanup
func UploadAbort(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	var data sessionBody
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "No session token provided",
			"requestID": requestID,
		})
		return
	}

	d.Uploader.Abort(c.Request.Context(), userID, data.SessionToken)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}
