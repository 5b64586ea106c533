package model

import (
	"time"

	"gorm.io/datatypes"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

type Attachment struct {
	URL  string `json:"url"`
	Kind string `json:"type"`
	Name string `json:"name"`
}

type Message struct {
	ID             uint64                          `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64                          `gorm:"column:conversation_id;index:idx_conv_created,priority:1" json:"conversationId"`
	SenderUID      string                          `gorm:"column:sender_uid;size:128;index" json:"senderId"`
	Text           string                          `gorm:"type:text;not null" json:"text"`
	MessageType    MessageType                     `gorm:"column:message_type;size:16;not null;default:text" json:"messageType"`
	Attachments    datatypes.JSONSlice[Attachment] `gorm:"column:attachments" json:"attachments"`
	IsDeleted      bool                            `gorm:"column:is_deleted;not null;default:false" json:"-"`
	DeletedAt      *time.Time                      `gorm:"column:deleted_at" json:"-"`
	CreatedAt      time.Time                       `gorm:"autoCreateTime;index:idx_conv_created,priority:2" json:"createdAt"`
	ReadBy         []MessageRead                   `gorm:"foreignKey:MessageID" json:"readBy"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) ReadByUser(uid string) bool {
	for _, r := range m.ReadBy {
		if r.UserUID == uid {
			return true
		}
	}
	return false
}

// MessageRead is a read receipt. One row per (message, user).
type MessageRead struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	MessageID uint64    `gorm:"column:message_id;uniqueIndex:uniq_msg_uid" json:"-"`
	UserUID   string    `gorm:"column:user_uid;size:128;uniqueIndex:uniq_msg_uid;index" json:"userId"`
	ReadAt    time.Time `gorm:"column:read_at;not null" json:"readAt"`
}

func (MessageRead) TableName() string {
	return "message_reads"
}
