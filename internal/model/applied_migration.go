package model

import "time"

// AppliedMigration marks a one-off data migration as done so it never
// runs twice
type AppliedMigration struct {
	Name      string    `gorm:"primaryKey;size:100"`
	TookMS    int64     `gorm:"not null;default:0"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}
