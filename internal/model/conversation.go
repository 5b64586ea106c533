package model

import "time"

type Conversation struct {
	ID           uint64               `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID   uint64               `gorm:"column:property_id;uniqueIndex:uniq_property_pair;index" json:"propertyId"`
	ParticipantA string               `gorm:"column:participant_a;size:128;uniqueIndex:uniq_property_pair;index" json:"-"`
	ParticipantB string               `gorm:"column:participant_b;size:128;uniqueIndex:uniq_property_pair;index" json:"-"`
	BuyerUID     string               `gorm:"column:buyer_uid;size:128" json:"buyerUid"`
	OwnerUID     string               `gorm:"column:owner_uid;size:128" json:"ownerUid"`
	LastMessage  LastMessage          `gorm:"embedded;embeddedPrefix:last_message_" json:"lastMessage"`
	IsActive     bool                 `gorm:"column:is_active;not null;default:true;index" json:"isActive"`
	CreatedAt    time.Time            `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time            `gorm:"autoUpdateTime;index" json:"updatedAt"`
	Members      []ConversationMember `gorm:"foreignKey:ConversationID" json:"-"`
	Property     *Property            `gorm:"foreignKey:PropertyID" json:"property,omitempty"`
}

// LastMessage is the denormalized preview of the newest message.
type LastMessage struct {
	Text      string     `gorm:"column:text;type:text" json:"text"`
	SenderUID string     `gorm:"column:sender_uid;size:128" json:"senderId"`
	SentAt    *time.Time `gorm:"column:sent_at" json:"sentAt,omitempty"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// OrderedPair returns the two user ids in their stored order.
func OrderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func (c *Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

func (c *Conversation) HasParticipant(uid string) bool {
	return uid != "" && (c.ParticipantA == uid || c.ParticipantB == uid)
}

// Other returns the participant that is not uid.
func (c *Conversation) Other(uid string) string {
	if c.ParticipantA == uid {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// UnreadCounts builds the per-participant unread map from the loaded member rows.
// Participants without a row report zero.
func (c *Conversation) UnreadCounts() map[string]int64 {
	out := map[string]int64{c.ParticipantA: 0, c.ParticipantB: 0}
	for _, m := range c.Members {
		out[m.UserUID] = m.UnreadCount
	}
	return out
}

func (c *Conversation) UnreadFor(uid string) int64 {
	for _, m := range c.Members {
		if m.UserUID == uid {
			return m.UnreadCount
		}
	}
	return 0
}
