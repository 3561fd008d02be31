package asset

import (
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/internal/storage"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AssetDownload streams the stored object back to its owner
func AssetDownload(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	asset := findAsset(c, d, false)
	if asset == nil {
		return
	}

	rc, err := d.Store.Get(c.Request.Context(), asset.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "Asset file is missing",
				"requestID": requestID,
			})

			err := d.DB.
				Model(model.Asset{}).
				Where("id = ?", asset.ID).
				Update("missing", true).
				Error
			if err != nil {
				zap.L().Error("Failed to flag asset as missing", zap.Error(err), zap.Uint("asset_id", asset.ID))
			}
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to open asset object", zap.Error(err), zap.String("requestID", requestID))
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, asset.Size, asset.MimeType, rc, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": asset.Filename}),
		"Cache-Control":       "private, max-age=" + strconv.Itoa(60*60),
	})
}
