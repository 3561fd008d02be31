// Package asset contains the handlers for browsing and managing stored
// assets
package asset

import (
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/model"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// findAsset loads an asset owned by the current user and writes the error
// response itself. A nil result means the handler should return.
func findAsset(c *gin.Context, d *internal.Deps, preload bool) *model.Asset {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid asset ID",
			"requestID": requestID,
		})
		return nil
	}

	q := d.DB.WithContext(c.Request.Context())
	if preload {
		q = q.Preload("Tags")
	}

	var asset model.Asset

	err = q.
		Where("user_id = ? AND id = ?", userID, id).
		First(&asset).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "Asset not found",
				"requestID": requestID,
			})
			return nil
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch asset from db", zap.Error(err), zap.String("requestID", requestID))
		return nil
	}

	return &asset
}

func AssetFetch(c *gin.Context, d *internal.Deps) {
	asset := findAsset(c, d, true)
	if asset == nil {
		return
	}

	c.JSON(http.StatusOK, asset)
}
