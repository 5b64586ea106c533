package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/estate-chat/internal/model"
	"github.com/shinyyama/estate-chat/internal/service"
)

// NotificationHandler serves the chat inbox of missed-message notices.
type NotificationHandler struct {
	svc service.NotificationService
}

func NewNotificationHandler(svc service.NotificationService) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

type NotificationResponse struct {
	ID             uint64  `json:"id"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	PropertyID     *uint64 `json:"propertyId,omitempty"`
	ConversationID *uint64 `json:"conversationId,omitempty"`
	Read           bool    `json:"read"`
	CreatedAt      string  `json:"createdAt"`
}

type InboxResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	UnreadCount   int64                  `json:"unreadCount"`
}

func toInboxResponse(in *service.Inbox) InboxResponse {
	out := InboxResponse{Notifications: make([]NotificationResponse, 0, len(in.Notifications)), UnreadCount: in.Unread}
	for _, n := range in.Notifications {
		out.Notifications = append(out.Notifications, toNotificationResponse(n))
	}
	return out
}

func toNotificationResponse(n model.Notification) NotificationResponse {
	return NotificationResponse{
		ID:             n.ID,
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Body,
		PropertyID:     n.PropertyID,
		ConversationID: n.ConversationID,
		Read:           n.ReadAt != nil,
		CreatedAt:      n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// List returns the caller's inbox. Unread notices only unless unread_only=false.
func (h *NotificationHandler) List(c echo.Context) error {
	uid, err := currentUID(c)
	if err != nil {
		return unauthorized(c)
	}
	inbox, err := h.svc.Inbox(c.Request().Context(), uid,
		c.QueryParam("unread_only") != "false",
		queryInt(c, "limit", service.DefaultInboxLimit))
	if err != nil {
		return serviceError(c, err, "failed to fetch notifications")
	}
	return c.JSON(http.StatusOK, toInboxResponse(inbox))
}

func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	uid, err := currentUID(c)
	if err != nil {
		return unauthorized(c)
	}
	if err := h.svc.MarkAllRead(c.Request().Context(), uid); err != nil {
		return serviceError(c, err, "failed to mark notifications read")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
