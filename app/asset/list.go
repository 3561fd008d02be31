package asset

import (
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/model"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AZ = A - Z as in alphabetic same for ZA
var validSortOpts = []string{"newest", "oldest", "az", "za", "size-asc", "size-desc"}

var sortOrder = map[string]string{
	"newest":    "created_at desc",
	"oldest":    "created_at asc",
	"az":        "filename",
	"za":        "filename desc",
	"size-asc":  "size asc",
	"size-desc": "size desc",
}

const maxLimit = 250

// AssetList returns a page of the user's assets. The page can be narrowed
// down with a filename query, a tag name and a mime type prefix.
func AssetList(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Page must be a positive number",
			"requestID": requestID,
		})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Limit must be a number greater than 0",
			"requestID": requestID,
		})
		return
	}

	if limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Limit must not exceed 250",
			"requestID": requestID,
		})
		return
	}

	sort := strings.ToLower(c.DefaultQuery("sort", "newest"))
	if !slices.Contains(validSortOpts, sort) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid sorting option",
			"requestID": requestID,
		})
		return
	}

	q := d.DB.
		WithContext(c.Request.Context()).
		Model(model.Asset{}).
		Where("user_id = ?", userID)

	if query := strings.ToLower(strings.TrimSpace(c.Query("query"))); query != "" {
		q = q.Where(`LOWER(filename) LIKE ? ESCAPE '\'`, "%"+escapeLike(query)+"%")
	}

	if tag := strings.ToLower(strings.TrimSpace(c.Query("tag"))); tag != "" {
		q = q.Where("id IN (?)", d.DB.
			Table("asset_tags").
			Select("asset_tags.asset_id").
			Joins("JOIN tags ON tags.id = asset_tags.tag_id").
			Where("tags.name = ?", tag))
	}

	if typ := strings.ToLower(strings.TrimSpace(c.Query("type"))); typ != "" {
		q = q.Where(`mime_type LIKE ? ESCAPE '\'`, escapeLike(typ)+"%")
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to count user assets", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	entries := []model.Asset{}

	err = q.
		Preload("Tags").
		Order(sortOrder[sort]).
		Offset(page * limit).
		Limit(limit).
		Find(&entries).
		Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to lookup user assets", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assets": entries,
		"page":   page,
		"limit":  limit,
		"total":  total,
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input safe to embed in a LIKE pattern with
// ESCAPE '\'
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
