// Package model defines database models
package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type Asset struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       string         `gorm:"index;not null" json:"-"`
	Filename     string         `gorm:"not null" json:"filename"`
	StorageKey   string         `gorm:"uniqueIndex;not null" json:"storage_key"`
	Folder       string         `json:"folder"`
	MimeType     string         `gorm:"index" json:"mime_type"`
	Size         int64          `json:"size"`
	Width        int            `json:"width,omitempty"`
	Height       int            `json:"height,omitempty"`
	ThumbnailKey string         `json:"thumbnail_key,omitempty"`
	AltText      string         `json:"alt_text"`
	Caption      string         `json:"caption"`
	License      string         `json:"license"`
	Copyright    string         `json:"copyright"`
	Missing      bool           `gorm:"default:false" json:"missing"` // Backing object couldn't be found
	Tags         []Tag          `gorm:"many2many:asset_tags;" json:"tags"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Asset) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

var decodable = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// CanThumbnail reports whether the image decoders know the asset's format.
// SVG, HEIC and friends are images too but can't be scaled.
func (a *Asset) CanThumbnail() bool {
	return decodable[a.MimeType]
}
