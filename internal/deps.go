package internal

import (
	"bitwise74/asset-api/config"
	"bitwise74/asset-api/internal/service"
	"bitwise74/asset-api/internal/storage"
	"bitwise74/asset-api/pkg/security"

	"gorm.io/gorm"
)

// Deps is everything a request handler may need
type Deps struct {
	DB       *gorm.DB
	Argon    *security.ArgonHash
	Guard    *security.JWTGuard
	Store    storage.Store
	Uploader *service.Uploader
	Settings *service.Settings
	Config   *config.Config
}
