package asset

import (
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/model"
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AssetDelete moves an asset to the trash. The storage object stays until
// the trash is purged but it no longer counts towards the quota.
func AssetDelete(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	asset := findAsset(c, d, false)
	if asset == nil {
		return
	}

	err := trashAsset(c.Request.Context(), d.DB, asset)
	if err != nil {
		// A concurrent delete got there first
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "Asset not found",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to delete asset", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	var newStats model.Stats

	err = d.DB.
		Where("user_id = ?", userID).
		First(&newStats).
		Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch user stats", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, newStats)
}

// trashAsset soft deletes an asset and gives its space back to the owner.
// Only the call that actually flips deleted_at touches the stats.
func trashAsset(ctx context.Context, db *gorm.DB, asset *model.Asset) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(asset)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.
			Model(model.Stats{}).
			Where("user_id = ?", asset.UserID).
			Updates(map[string]any{
				"used_storage":    gorm.Expr("used_storage - ?", asset.Size),
				"uploaded_assets": gorm.Expr("uploaded_assets - ?", 1),
			}).
			Error
	})
}
