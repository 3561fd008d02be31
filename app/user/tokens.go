package user

import (
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/pkg/security"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type tokenBody struct {
	Name      string `json:"name" binding:"required,max=100"`
	ExpiresIn int    `json:"expires_in_days" binding:"gte=0,lte=3650"` // 0 never expires
}

// UserTokenCreate issues a personal API token. The raw token is only ever
// shown in this response.
func UserTokenCreate(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	var data tokenBody
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "A token name of at most 100 characters is required",
			"requestID": requestID,
		})
		return
	}

	opts := &security.APITokenOpts{
		UserID: userID,
		Name:   data.Name,
	}

	if data.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(data.ExpiresIn) * 24 * time.Hour)
		opts.ExpiresAt = &exp
	}

	raw, token, err := security.MakeAPIToken(opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to generate API token", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if err := d.DB.Create(token).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to save API token", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":      raw,
		"id":         token.ID,
		"name":       token.Name,
		"expires_at": token.ExpiresAt,
	})
}
