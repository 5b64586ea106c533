package model

import "time"

// ConversationMember holds one participant's unread counter for a conversation.
// Counters are only changed with single-statement SQL updates.
type ConversationMember struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement"`
	ConversationID uint64     `gorm:"column:conversation_id;uniqueIndex:uniq_conv_uid"`
	UserUID        string     `gorm:"column:user_uid;size:128;uniqueIndex:uniq_conv_uid;index"`
	UnreadCount    int64      `gorm:"column:unread_count;not null;default:0"`
	LastReadAt     *time.Time `gorm:"column:last_read_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

func (ConversationMember) TableName() string {
	return "conversation_members"
}
