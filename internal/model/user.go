package model

import "time"

type User struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"unique;not null"`
	PasswordHash string `gorm:"not null"`
	JWTSecret    string `gorm:"not null"` // Rotating it invalidates every issued token
	IsAdmin      bool   `gorm:"default:false"`
	CreatedAt    time.Time

	Assets    []Asset    `gorm:"foreignKey:UserID"`
	APITokens []APIToken `gorm:"foreignKey:UserID"`
	Stats     Stats      `gorm:"foreignKey:UserID"`
}
