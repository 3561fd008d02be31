// Package admin contains handlers restricted to administrators
package admin

import (
	"bitwise74/asset-api/internal"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func SettingsFetch(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	all, err := d.Settings.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to load settings", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, all)
}

// SettingsUpdate takes a map of setting keys to new values. Every key is
// checked before anything gets saved.
func SettingsUpdate(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	var data map[string]string
	if err := c.ShouldBindJSON(&data); err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Expected a JSON object of settings",
			"requestID": requestID,
		})
		return
	}

	ctx := c.Request.Context()

	for key, value := range data {
		if err := d.Settings.Validate(key, value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     err.Error(),
				"requestID": requestID,
			})
			return
		}
	}

	for key, value := range data {
		if err := d.Settings.Set(ctx, key, value); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to save setting", zap.Error(err), zap.String("requestID", requestID))
			return
		}
	}

	SettingsFetch(c, d)
}
