package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shinyyama/estate-chat/internal/logctx"
	"github.com/shinyyama/estate-chat/internal/model"
	"github.com/shinyyama/estate-chat/internal/repository"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	MaxMessageChars = 4000
)

type ChatService interface {
	StartOrGetConversation(ctx context.Context, requesterID string, propertyID uint64, ownerID string) (*model.Conversation, bool, error)
	ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error)
	GetConversation(ctx context.Context, conversationID uint64, userID string) (*model.Conversation, error)
	GetMessages(ctx context.Context, conversationID uint64, userID string, page, pageSize int) ([]MessageView, error)
	SendMessage(ctx context.Context, in SendMessageInput) (*MessageView, error)
	GetMessage(ctx context.Context, conversationID, messageID uint64, userID string) (*MessageView, error)
	DeleteMessage(ctx context.Context, conversationID, messageID uint64, userID string) error
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	ArchiveConversation(ctx context.Context, conversationID uint64, userID string) error
}

// ConversationSummary is a list entry seen from one participant.
type ConversationSummary struct {
	Conversation     model.Conversation
	OtherParticipant Profile
	MyUnreadCount    int64
}

// MessageView is a stored message with its sender's profile.
type MessageView struct {
	model.Message
	Sender Profile
}

type SendMessageInput struct {
	ConversationID uint64
	SenderID       string
	Text           string
	MessageType    model.MessageType
	Attachments    []model.Attachment
}

type chatService struct {
	convRepo  repository.ConversationRepository
	msgRepo   repository.MessageRepository
	propRepo  repository.PropertyRepository
	users     UserDirectory
	notifySvc NotificationService
	now       func() time.Time
}

type ChatOption func(*chatService)

// WithClock overrides the time source used for message and receipt timestamps.
func WithClock(now func() time.Time) ChatOption {
	return func(s *chatService) { s.now = now }
}

// WithNotifications lets message reads clear the reader's conversation notifications.
func WithNotifications(n NotificationService) ChatOption {
	return func(s *chatService) { s.notifySvc = n }
}

func NewChatService(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository, propRepo repository.PropertyRepository, users UserDirectory, opts ...ChatOption) ChatService {
	s := &chatService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		propRepo: propRepo,
		users:    users,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *chatService) StartOrGetConversation(ctx context.Context, requesterID string, propertyID uint64, ownerID string) (*model.Conversation, bool, error) {
	requesterID = strings.TrimSpace(requesterID)
	ownerID = strings.TrimSpace(ownerID)
	if requesterID == "" {
		return nil, false, invalidArgument("requester is required")
	}
	if propertyID == 0 {
		return nil, false, invalidArgument("propertyId is required")
	}

	prop, err := s.propRepo.FindByID(ctx, propertyID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, false, notFound("property not found")
		}
		return nil, false, fmt.Errorf("find property: %w", err)
	}
	if ownerID == "" {
		ownerID = strings.TrimSpace(prop.OwnerUID)
	}
	if ownerID == "" {
		return nil, false, invalidState("property has no owner assigned")
	}
	if ownerID == requesterID {
		return nil, false, invalidArgument("cannot start a conversation with yourself")
	}
	if _, err := s.users.GetUser(ctx, ownerID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, false, notFound("property owner not found")
		}
		return nil, false, fmt.Errorf("lookup owner: %w", err)
	}

	cv, created, err := s.convRepo.FindOrCreate(ctx, propertyID, requesterID, ownerID)
	if err != nil {
		return nil, false, fmt.Errorf("find or create conversation: %w", err)
	}
	full, err := s.convRepo.FindByID(ctx, cv.ID)
	if err != nil {
		return nil, false, fmt.Errorf("reload conversation: %w", err)
	}
	if created {
		logctx.From(ctx).Info("chat.conversation.created", "conversation_id", full.ID, "property_id", propertyID, "buyer", requesterID, "owner", ownerID)
	}
	return full, created, nil
}

func (s *chatService) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	list, err := s.convRepo.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	cache := make(map[string]Profile)
	out := make([]ConversationSummary, 0, len(list))
	for _, cv := range list {
		out = append(out, ConversationSummary{
			Conversation:     cv,
			OtherParticipant: s.profile(ctx, cache, cv.Other(userID)),
			MyUnreadCount:    cv.UnreadFor(userID),
		})
	}
	return out, nil
}

func (s *chatService) GetConversation(ctx context.Context, conversationID uint64, userID string) (*model.Conversation, error) {
	return s.participantConversation(ctx, conversationID, userID)
}

func (s *chatService) GetMessages(ctx context.Context, conversationID uint64, userID string, page, pageSize int) ([]MessageView, error) {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	upTo, err := s.msgRepo.LatestID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	msgs, err := s.msgRepo.ListPage(ctx, conversationID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	now := s.now()
	marked, err := s.msgRepo.MarkRead(ctx, conversationID, userID, upTo, now)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if marked > 0 {
		logctx.From(ctx).Debug("chat.messages.read", "conversation_id", conversationID, "user_id", userID, "marked", marked)
	}
	if s.notifySvc != nil {
		if err := s.notifySvc.MarkByConversation(ctx, userID, conversationID); err != nil {
			logctx.From(ctx).Warn("chat.notifications.mark_read.fail", "conversation_id", conversationID, "err", err)
		}
	}

	cache := make(map[string]Profile)
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		if m.SenderUID != userID && m.ID <= upTo && !m.ReadByUser(userID) {
			m.ReadBy = append(m.ReadBy, model.MessageRead{MessageID: m.ID, UserUID: userID, ReadAt: now})
		}
		// Stored newest-first; callers display oldest-first.
		out[len(msgs)-1-i] = MessageView{Message: m, Sender: s.profile(ctx, cache, m.SenderUID)}
	}
	return out, nil
}

func (s *chatService) SendMessage(ctx context.Context, in SendMessageInput) (*MessageView, error) {
	typ := in.MessageType
	if typ == "" {
		typ = model.MessageTypeText
	}
	if !typ.Valid() {
		return nil, invalidArgument(fmt.Sprintf("unsupported message type: %s", typ))
	}
	attachments := make([]model.Attachment, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		a.URL = strings.TrimSpace(a.URL)
		if a.URL == "" {
			return nil, invalidArgument("attachment url is required")
		}
		attachments = append(attachments, a)
	}

	text := strings.TrimSpace(in.Text)
	switch typ {
	case model.MessageTypeImage, model.MessageTypeFile:
		if len(attachments) == 0 {
			return nil, invalidArgument("attachments are required for " + string(typ) + " messages")
		}
		if text == "" {
			text = attachmentLabel(attachments[0])
		}
	default:
		if text == "" {
			return nil, invalidArgument("text is required")
		}
	}
	if utf8.RuneCountInString(text) > MaxMessageChars {
		return nil, invalidArgument(fmt.Sprintf("message too long: max=%d chars", MaxMessageChars))
	}

	if _, err := s.participantConversation(ctx, in.ConversationID, in.SenderID); err != nil {
		return nil, err
	}

	now := s.now()
	msg := &model.Message{
		ConversationID: in.ConversationID,
		SenderUID:      in.SenderID,
		Text:           text,
		MessageType:    typ,
		Attachments:    attachments,
		CreatedAt:      now,
		ReadBy:         []model.MessageRead{{UserUID: in.SenderID, ReadAt: now}},
	}
	if err := s.msgRepo.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	logctx.From(ctx).Info("chat.message.sent", "conversation_id", msg.ConversationID, "message_id", msg.ID, "sender", msg.SenderUID, "type", string(typ))

	return &MessageView{Message: *msg, Sender: s.profile(ctx, nil, in.SenderID)}, nil
}

// GetMessage returns one live message of a conversation the user takes part in.
// Deleted messages are reported as not found.
func (s *chatService) GetMessage(ctx context.Context, conversationID, messageID uint64, userID string) (*MessageView, error) {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msg, err := s.msgRepo.FindInConversation(ctx, conversationID, messageID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, notFound("message not found")
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	if msg.IsDeleted {
		return nil, notFound("message not found")
	}
	return &MessageView{Message: *msg, Sender: s.profile(ctx, nil, msg.SenderUID)}, nil
}

func (s *chatService) DeleteMessage(ctx context.Context, conversationID, messageID uint64, userID string) error {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	msg, err := s.msgRepo.FindInConversation(ctx, conversationID, messageID)
	if err != nil {
		if repository.IsNotFound(err) {
			return notFound("message not found")
		}
		return fmt.Errorf("find message: %w", err)
	}
	if msg.SenderUID != userID {
		return forbidden("only the sender can delete a message")
	}
	if msg.IsDeleted {
		return nil
	}
	if err := s.msgRepo.SoftDelete(ctx, messageID, s.now()); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (s *chatService) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.convRepo.SumUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("sum unread: %w", err)
	}
	return n, nil
}

// ArchiveConversation hides the conversation for both participants.
func (s *chatService) ArchiveConversation(ctx context.Context, conversationID uint64, userID string) error {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.convRepo.SetActive(ctx, conversationID, false); err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	logctx.From(ctx).Info("chat.conversation.archived", "conversation_id", conversationID, "by", userID)
	return nil
}

func (s *chatService) participantConversation(ctx context.Context, conversationID uint64, userID string) (*model.Conversation, error) {
	cv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, notFound("conversation not found")
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if !cv.HasParticipant(userID) {
		return nil, forbidden("not a participant")
	}
	return cv, nil
}

// profile resolves uid through the directory, degrading to a uid-only profile.
func (s *chatService) profile(ctx context.Context, cache map[string]Profile, uid string) Profile {
	if p, ok := cache[uid]; ok {
		return p
	}
	out := Profile{UID: uid}
	if s.users != nil && uid != "" {
		p, err := s.users.GetUser(ctx, uid)
		if err != nil {
			logctx.From(ctx).Warn("chat.profile.lookup.fail", "user_id", uid, "err", err)
		} else if p != nil {
			out = *p
			out.UID = uid
		}
	}
	if cache != nil {
		cache[uid] = out
	}
	return out
}

func attachmentLabel(a model.Attachment) string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return a.URL
}
