package model

const (
	TagTypeUser      = "user"
	TagTypeAI        = "ai"
	TagTypeReference = "reference"
)

type Tag struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"uniqueIndex:idx_tag_name_type;not null" json:"name"`
	Type string `gorm:"uniqueIndex:idx_tag_name_type;not null;default:user" json:"type"`
}
