package handler

import (
	"time"

	"github.com/shinyyama/estate-chat/internal/model"
	"github.com/shinyyama/estate-chat/internal/service"
)

type StartConversationRequest struct {
	PropertyID FlexID `json:"propertyId" validate:"required"`
	OwnerID    string `json:"ownerId" validate:"omitempty,max=128"`
}

type AttachmentRequest struct {
	URL  string `json:"url" validate:"required,url"`
	Type string `json:"type" validate:"omitempty,max=32"`
	Name string `json:"name" validate:"omitempty,max=255"`
}

type SendMessageRequest struct {
	ConversationID FlexID              `json:"conversationId" validate:"required"`
	Text           string              `json:"text"`
	MessageType    string              `json:"messageType" validate:"omitempty,oneof=text image file system"`
	Attachments    []AttachmentRequest `json:"attachments" validate:"omitempty,max=10,dive"`
}

type PropertySummary struct {
	ID       uint64  `json:"id"`
	Title    string  `json:"title"`
	Address  string  `json:"address,omitempty"`
	Price    uint64  `json:"price"`
	ImageURL *string `json:"imageUrl,omitempty"`
	OwnerID  string  `json:"ownerId"`
}

type ConversationResponse struct {
	ID           uint64            `json:"id"`
	PropertyID   uint64            `json:"propertyId"`
	Property     *PropertySummary  `json:"property,omitempty"`
	Participants []string          `json:"participants"`
	BuyerID      string            `json:"buyerId"`
	OwnerID      string            `json:"ownerId"`
	LastMessage  model.LastMessage `json:"lastMessage"`
	UnreadCount  map[string]int64  `json:"unreadCount"`
	IsActive     bool              `json:"isActive"`
	CreatedAt    string            `json:"createdAt"`
	UpdatedAt    string            `json:"updatedAt"`
}

type ConversationListItem struct {
	ConversationResponse
	OtherParticipant service.Profile `json:"otherParticipant"`
	MyUnreadCount    int64           `json:"myUnreadCount"`
}

type ReadReceipt struct {
	UserID string `json:"userId"`
	ReadAt string `json:"readAt"`
}

type MessageResponse struct {
	ID             uint64             `json:"id"`
	ConversationID uint64             `json:"conversationId"`
	SenderID       string             `json:"senderId"`
	Sender         service.Profile    `json:"sender"`
	Text           string             `json:"text"`
	MessageType    string             `json:"messageType"`
	Attachments    []model.Attachment `json:"attachments"`
	ReadBy         []ReadReceipt      `json:"readBy"`
	CreatedAt      string             `json:"createdAt"`
}

func toConversationResponse(cv *model.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:           cv.ID,
		PropertyID:   cv.PropertyID,
		Participants: cv.Participants(),
		BuyerID:      cv.BuyerUID,
		OwnerID:      cv.OwnerUID,
		LastMessage:  cv.LastMessage,
		UnreadCount:  cv.UnreadCounts(),
		IsActive:     cv.IsActive,
		CreatedAt:    cv.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    cv.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p := cv.Property; p != nil {
		resp.Property = &PropertySummary{
			ID:       p.ID,
			Title:    p.Title,
			Address:  p.Address,
			Price:    p.Price,
			ImageURL: p.ImageURL,
			OwnerID:  p.OwnerUID,
		}
	}
	return resp
}

func toMessageResponse(m service.MessageView) MessageResponse {
	attachments := []model.Attachment(m.Attachments)
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	reads := make([]ReadReceipt, 0, len(m.ReadBy))
	for _, r := range m.ReadBy {
		reads = append(reads, ReadReceipt{UserID: r.UserUID, ReadAt: r.ReadAt.UTC().Format(time.RFC3339)})
	}
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderUID,
		Sender:         m.Sender,
		Text:           m.Text,
		MessageType:    string(m.MessageType),
		Attachments:    attachments,
		ReadBy:         reads,
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
