package model

type Stats struct {
	UserID         string `gorm:"primaryKey" json:"-"`
	MaxStorage     int64  `json:"maxStorage"` // 0 means no quota
	UsedStorage    int64  `json:"usedStorage"`
	UploadedAssets int    `json:"uploadedAssets"`
}
