package service

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/shinyyama/estate-chat/internal/logctx"
	"github.com/shinyyama/estate-chat/internal/model"
	"github.com/shinyyama/estate-chat/internal/repository"
)

const (
	DefaultInboxLimit  = 20
	noticePreviewRunes = 80
)

// NotificationService is the chat inbox: rows left for a participant who had
// no live session when a message arrived, cleared once they open the thread.
type NotificationService interface {
	NotifyNewMessage(ctx context.Context, n NewMessageNotice)
	Inbox(ctx context.Context, userUID string, unreadOnly bool, limit int) (*Inbox, error)
	MarkAllRead(ctx context.Context, userUID string) error
	MarkByConversation(ctx context.Context, userUID string, convID uint64) error
}

// NewMessageNotice describes a message the recipient missed.
type NewMessageNotice struct {
	RecipientUID   string
	SenderName     string
	Text           string
	PropertyID     uint64
	ConversationID uint64
}

type Inbox struct {
	Notifications []model.Notification
	Unread        int64
}

type notificationService struct {
	repo repository.NotificationRepository
}

func NewNotificationService(repo repository.NotificationRepository) NotificationService {
	return &notificationService{repo: repo}
}

// NotifyNewMessage never fails the send that triggered it; errors are logged.
func (s *notificationService) NotifyNewMessage(ctx context.Context, n NewMessageNotice) {
	if n.RecipientUID == "" || n.ConversationID == 0 {
		return
	}
	title := "New message"
	if n.SenderName != "" {
		title = fmt.Sprintf("New message from %s", n.SenderName)
	}
	row := &model.Notification{
		UserUID:        n.RecipientUID,
		Type:           model.NotificationTypeNewMessage,
		Title:          title,
		Body:           truncateRunes(n.Text, noticePreviewRunes),
		ConversationID: &n.ConversationID,
	}
	if n.PropertyID != 0 {
		row.PropertyID = &n.PropertyID
	}
	if err := s.repo.Create(ctx, row); err != nil {
		logctx.From(ctx).Warn("chat.notification.create.fail", "user_id", n.RecipientUID, "conversation_id", n.ConversationID, "err", err)
		return
	}
	logctx.From(ctx).Debug("chat.notification.created", "user_id", n.RecipientUID, "conversation_id", n.ConversationID)
}

func (s *notificationService) Inbox(ctx context.Context, userUID string, unreadOnly bool, limit int) (*Inbox, error) {
	if userUID == "" {
		return &Inbox{}, nil
	}
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	list, err := s.repo.ListByUser(ctx, userUID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	unread, err := s.repo.CountUnread(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("count unread notifications: %w", err)
	}
	return &Inbox{Notifications: list, Unread: unread}, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userUID string) error {
	if userUID == "" {
		return nil
	}
	if err := s.repo.MarkAllRead(ctx, userUID); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

// MarkByConversation clears the inbox rows of one thread, called when the user reads it.
func (s *notificationService) MarkByConversation(ctx context.Context, userUID string, convID uint64) error {
	if userUID == "" || convID == 0 {
		return nil
	}
	return s.repo.MarkByConversation(ctx, userUID, convID)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "…"
}
