package entities

import "time"

// WardrobeItem is the persisted wardrobe item row. The wardrobe CRUD
// surface owns the descriptive columns; this service reads ownership and
// writes the image-processing columns.
type WardrobeItem struct {
	ID                    string     `gorm:"type:varchar(40);primaryKey"`
	OwnerID               string     `gorm:"type:varchar(64);not null;index"`
	Name                  string     `gorm:"type:varchar(255)"`
	Category              string     `gorm:"type:varchar(64)"`
	ProcessingStatus      string     `gorm:"type:varchar(16);not null;default:pending;index:idx_wardrobe_item_processing"`
	ProcessingStartedAt   *time.Time `gorm:"index:idx_wardrobe_item_processing"`
	ProcessingCompletedAt *time.Time
	ImageURL              *string   `gorm:"type:varchar(512)"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime"`
}

func (WardrobeItem) TableName() string {
	return "wardrobe_items"
}
