package model

import "time"

// Property is the listing a conversation is anchored to. Chat only reads it.
type Property struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerUID  string    `gorm:"column:owner_uid;size:128;index" json:"ownerUid"`
	Title     string    `gorm:"size:160;not null" json:"title"`
	Address   string    `gorm:"size:255" json:"address"`
	Price     uint64    `gorm:"not null" json:"price"`
	ImageURL  *string   `gorm:"size:512" json:"imageUrl,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Property) TableName() string {
	return "properties"
}
