package db

import (
	"bitwise74/asset-api/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type migration struct {
	name string
	run  func(tx *gorm.DB) error
}

var migrations = []migration{
	{
		name: "0001_default_settings",
		run: func(tx *gorm.DB) error {
			defaults := []model.Setting{
				{Key: "ai_tagging_enabled", Value: ""},
				{Key: "storage_root_folder", Value: ""},
				{Key: "thumbnail_width", Value: ""},
			}

			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error
		},
	},
}
