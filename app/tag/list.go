// Package tag contains the tag vocabulary handlers
package tag

import (
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/model"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var validTypes = []string{model.TagTypeUser, model.TagTypeAI, model.TagTypeReference}

// TagList returns the shared tag vocabulary, optionally of a single type
func TagList(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	q := d.DB.WithContext(c.Request.Context()).Order("name")

	if typ := c.Query("type"); typ != "" {
		if !slices.Contains(validTypes, typ) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "Invalid tag type",
				"requestID": requestID,
			})
			return
		}

		q = q.Where("type = ?", typ)
	}

	tags := []model.Tag{}
	if err := q.Find(&tags).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to list tags", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, tags)
}
