package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/estate-chat/internal/logctx"
	"github.com/shinyyama/estate-chat/internal/model"
	"github.com/shinyyama/estate-chat/internal/realtime"
	"github.com/shinyyama/estate-chat/internal/service"
)

// Relay is the slice of the realtime hub the REST surface pushes through.
type Relay interface {
	RelayMessage(conversationID, messageID string, message json.RawMessage, ex realtime.Exclude) int
	NotifyUser(uid string, env realtime.Envelope) int
	IsOnline(uid string) bool
	OnlineUsers() []string
}

type ChatHandler struct {
	svc   service.ChatService
	notes service.NotificationService
	relay Relay
}

func NewChatHandler(svc service.ChatService, notes service.NotificationService, relay Relay) *ChatHandler {
	return &ChatHandler{svc: svc, notes: notes, relay: relay}
}

func (h *ChatHandler) Start(c echo.Context) error {
	uid, err := currentUID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req StartConversationRequest
	if err := bindRequest(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	cv, created, err := h.svc.StartOrGetConversation(c.Request().Context(), uid, uint64(req.PropertyID), req.OwnerID)
	if err != nil {
		return serviceError(c, err, "failed to start conversation")
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]interface{}{
		"conversation": toConversationResponse(cv),
		"isNew":        created,
	})
}

func (h *ChatHandler) List(c echo.Context) error {
	uid, err := currentUID(c)
	if err != nil {
		return unauthorized(c)
	}
	list, err := h.svc.ListConversations(c.Request().Context(), uid)
	if err != nil {
		return serviceError(c, err, "failed to list conversations")
	}
	resp := make([]ConversationListItem, 0, len(list))
	for i := range list {
		resp = append(resp, ConversationListItem{
			ConversationResponse: toConversationResponse(&list[i].Conversation),
			OtherParticipant:     list[i].OtherParticipant,
			MyUnreadCount:        list[i].MyUnreadCount,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": resp})
}

func (h *ChatHandler) Get(c echo.Context) error {
	uid, err := currentUID(c)
	if err != nil {
		return unauthorized(c)
	}
	convID, ok := parseIDParam(c, "conversationId")
	if !ok {
		return badRequest(c, "invalid conversation id")
	}
	cv, err := h.svc.GetConversation(c.Request().Context(), convID, uid)
	if err != nil {
		return serviceError(c, err, "failed to load conversation")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversation": toConversationResponse(cv)})
}

func (h *ChatHandler) Messages(c echo.Context) error {
	uid, err := currentUID(c)
	if err != nil {
		return unauthorized(c)
	}
	convID, ok := parseIDParam(c, "conversationId")
	if !ok {
		return badRequest(c, "invalid conversation id")
	}
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", service.DefaultPageSize)
	msgs, err := h.svc.GetMessages(c.Request().Context(), convID, uid, page, limit)
	if err != nil {
		return serviceError(c, err, "failed to fetch messages")
	}
	resp := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": resp})
}

func (h *ChatHandler) Send(c echo.Context) error {
	uid, err := currentUID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req SendMessageRequest
	if err := bindRequest(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	in := service.SendMessageInput{
		ConversationID: uint64(req.ConversationID),
		SenderID:       uid,
		Text:           req.Text,
		MessageType:    model.MessageType(req.MessageType),
	}
	for _, a := range req.Attachments {
		in.Attachments = append(in.Attachments, model.Attachment{URL: a.URL, Kind: a.Type, Name: a.Name})
	}
	ctx := c.Request().Context()
	view, err := h.svc.SendMessage(ctx, in)
	if err != nil {
		return serviceError(c, err, "failed to send message")
	}
	resp := toMessageResponse(*view)
	h.fanOut(c, resp)
	return c.JSON(http.StatusCreated, map[string]interface{}{"message": resp})
}

// fanOut pushes a stored message to live sessions and leaves a notification
// for a recipient with none. Failures here never fail the send.
func (h *ChatHandler) fanOut(c echo.Context, msg MessageResponse) {
	if h.relay == nil {
		return
	}
	ctx := c.Request().Context()
	log := logctx.From(ctx)
	convKey := strconv.FormatUint(msg.ConversationID, 10)

	raw, err := json.Marshal(msg)
	if err != nil {
		log.Warn("chat.relay.encode.fail", "err", err)
		return
	}
	delivered := h.relay.RelayMessage(convKey, strconv.FormatUint(msg.ID, 10), raw, realtime.Exclude{UserID: msg.SenderID})

	cv, err := h.svc.GetConversation(ctx, msg.ConversationID, msg.SenderID)
	if err != nil {
		log.Warn("chat.relay.conversation.fail", "conversation_id", msg.ConversationID, "err", err)
		return
	}
	recipient := cv.Other(msg.SenderID)
	update, err := realtime.NewEnvelope(realtime.EventConversationUpdated, realtime.ConversationUpdatedPayload{
		ConversationID: convKey,
		LastMessage:    cv.LastMessage,
	})
	if err == nil {
		h.relay.NotifyUser(recipient, update)
		h.relay.NotifyUser(msg.SenderID, update)
	}
	log.Debug("chat.relay.sent", "conversation_id", msg.ConversationID, "message_id", msg.ID, "room_deliveries", delivered)

	if h.notes != nil && !h.relay.IsOnline(recipient) {
		h.notes.NotifyNewMessage(ctx, service.NewMessageNotice{
			RecipientUID:   recipient,
			SenderName:     msg.Sender.Name,
			Text:           msg.Text,
			PropertyID:     cv.PropertyID,
			ConversationID: cv.ID,
		})
	}
}

// LoadMessage resolves a websocket send_message hint to the stored message,
// encoded exactly as the REST fanout encodes it.
func (h *ChatHandler) LoadMessage(ctx context.Context, userID, conversationID, messageID string) (json.RawMessage, error) {
	convID, err := strconv.ParseUint(conversationID, 10, 64)
	if err != nil || convID == 0 {
		return nil, realtime.ErrUnknownMessage
	}
	msgID, err := strconv.ParseUint(messageID, 10, 64)
	if err != nil || msgID == 0 {
		return nil, realtime.ErrUnknownMessage
	}
	view, err := h.svc.GetMessage(ctx, convID, msgID, userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrForbidden) {
			return nil, realtime.ErrUnknownMessage
		}
		return nil, err
	}
	return json.Marshal(toMessageResponse(*view))
}

func (h *ChatHandler) DeleteMessage(c echo.Context) error {
	uid, err := currentUID(c)
	if err != nil {
		return unauthorized(c)
	}
	convID, ok := parseIDParam(c, "conversationId")
	if !ok {
		return badRequest(c, "invalid conversation id")
	}
	msgID, ok := parseIDParam(c, "messageId")
	if !ok {
		return badRequest(c, "invalid message id")
	}
	if err := h.svc.DeleteMessage(c.Request().Context(), convID, msgID, uid); err != nil {
		return serviceError(c, err, "failed to delete message")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (h *ChatHandler) UnreadCount(c echo.Context) error {
	uid, err := currentUID(c)
	if err != nil {
		return unauthorized(c)
	}
	n, err := h.svc.GetUnreadCount(c.Request().Context(), uid)
	if err != nil {
		return serviceError(c, err, "failed to count unread messages")
	}
	return c.JSON(http.StatusOK, map[string]int64{"unreadCount": n})
}

func (h *ChatHandler) Archive(c echo.Context) error {
	uid, err := currentUID(c)
	if err != nil {
		return unauthorized(c)
	}
	convID, ok := parseIDParam(c, "conversationId")
	if !ok {
		return badRequest(c, "invalid conversation id")
	}
	if err := h.svc.ArchiveConversation(c.Request().Context(), convID, uid); err != nil {
		return serviceError(c, err, "failed to archive conversation")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (h *ChatHandler) Presence(c echo.Context) error {
	users := []string{}
	if h.relay != nil {
		users = h.relay.OnlineUsers()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"users": users})
}
