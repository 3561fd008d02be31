package asset

import (
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type assetEditOpts struct {
	AltText   *string   `json:"alt_text,omitempty" binding:"omitempty,max=1000"`
	Caption   *string   `json:"caption,omitempty" binding:"omitempty,max=4000"`
	License   *string   `json:"license,omitempty" binding:"omitempty,max=255"`
	Copyright *string   `json:"copyright,omitempty" binding:"omitempty,max=255"`
	Tags      *[]string `json:"tags,omitempty" binding:"omitempty,max=50,dive,max=64"`
}

// AssetEdit updates the metadata of an asset. Passing tags replaces the
// user tags, tags added by the recognition service stay.
func AssetEdit(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	var data assetEditOpts
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Malformed or invalid JSON request body",
			"requestID": requestID,
		})

		zap.L().Debug("Failed to read JSON body", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if data.AltText == nil && data.Caption == nil && data.License == nil && data.Copyright == nil && data.Tags == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "No edit options provided",
			"requestID": requestID,
		})
		return
	}

	asset := findAsset(c, d, true)
	if asset == nil {
		return
	}

	updates := map[string]any{}
	if data.AltText != nil {
		updates["alt_text"] = *data.AltText
	}
	if data.Caption != nil {
		updates["caption"] = *data.Caption
	}
	if data.License != nil {
		updates["license"] = *data.License
	}
	if data.Copyright != nil {
		updates["copyright"] = *data.Copyright
	}

	err := d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(asset).Updates(updates).Error; err != nil {
				return err
			}
		}

		if data.Tags == nil {
			return nil
		}

		tags, err := service.FindOrCreateTags(tx, *data.Tags, model.TagTypeUser)
		if err != nil {
			return err
		}

		for _, t := range asset.Tags {
			if t.Type != model.TagTypeUser {
				tags = append(tags, t)
			}
		}

		return tx.Model(asset).Association("Tags").Replace(tags)
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to commit transaction after asset edit", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	var updated model.Asset
	if err := d.DB.Preload("Tags").First(&updated, asset.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to reload asset after edit", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, updated)
}
