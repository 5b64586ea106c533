package repository

import (
	"context"
	"time"

	"github.com/shinyyama/estate-chat/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepository interface {
	// Append stores msg (and its ReadBy receipts), refreshes the conversation
	// preview and bumps every other member's unread counter in one transaction.
	Append(ctx context.Context, msg *model.Message) error
	ListPage(ctx context.Context, convID uint64, limit, offset int) ([]model.Message, error)
	LatestID(ctx context.Context, convID uint64) (uint64, error)
	// MarkRead records receipts for uid on every message up to upToID not sent
	// by uid, then recomputes uid's unread counter. It returns the receipts added.
	MarkRead(ctx context.Context, convID uint64, uid string, upToID uint64, now time.Time) (int64, error)
	FindInConversation(ctx context.Context, convID, msgID uint64) (*model.Message, error)
	SoftDelete(ctx context.Context, msgID uint64, now time.Time) error
	// CountUnread derives the unread count from read receipts. Requests read
	// the stored member counter instead; this is the reference it must match.
	CountUnread(ctx context.Context, convID uint64, uid string) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, msg *model.Message) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	sentAt := msg.CreatedAt
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]interface{}{
				"last_message_text":       msg.Text,
				"last_message_sender_uid": msg.SenderUID,
				"last_message_sent_at":    sentAt,
				"updated_at":              sentAt,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&model.ConversationMember{}).
			Where("conversation_id = ? AND user_uid <> ?", msg.ConversationID, msg.SenderUID).
			UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error
	})
}

func (r *messageRepository) ListPage(ctx context.Context, convID uint64, limit, offset int) ([]model.Message, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var msgs []model.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", convID, false).
		Preload("ReadBy", func(db *gorm.DB) *gorm.DB { return db.Order("read_at ASC, id ASC") }).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepository) LatestID(ctx context.Context, convID uint64) (uint64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var id uint64
	if err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ?", convID).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id).Error; err != nil {
		return 0, err
	}
	return id, nil
}

// unreadQuery selects the messages in convID sent by others that uid has no receipt for.
func unreadQuery(tx *gorm.DB, convID uint64, uid string) *gorm.DB {
	return tx.Model(&model.Message{}).
		Where("conversation_id = ? AND sender_uid <> ?", convID, uid).
		Where("NOT EXISTS (SELECT 1 FROM message_reads WHERE message_reads.message_id = messages.id AND message_reads.user_uid = ?)", uid)
}

func (r *messageRepository) MarkRead(ctx context.Context, convID uint64, uid string, upToID uint64, now time.Time) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var marked int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		if err := unreadQuery(tx, convID, uid).
			Where("id <= ?", upToID).
			Order("id ASC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) > 0 {
			reads := make([]model.MessageRead, 0, len(ids))
			for _, id := range ids {
				reads = append(reads, model.MessageRead{MessageID: id, UserUID: uid, ReadAt: now})
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&reads, 200)
			if res.Error != nil {
				return res.Error
			}
			marked = res.RowsAffected
		}

		// Recount instead of zeroing so messages that landed after upToID stay unread.
		recount := unreadQuery(tx, convID, uid).Select("COUNT(*)")
		return tx.Model(&model.ConversationMember{}).
			Where("conversation_id = ? AND user_uid = ?", convID, uid).
			Updates(map[string]interface{}{
				"unread_count": recount,
				"last_read_at": now,
			}).Error
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

func (r *messageRepository) FindInConversation(ctx context.Context, convID, msgID uint64) (*model.Message, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var m model.Message
	if err := r.db.WithContext(ctx).
		Where("id = ? AND conversation_id = ?", msgID, convID).
		Preload("ReadBy").
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, msgID uint64, now time.Time) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("id = ?", msgID).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": now}).Error
}

func (r *messageRepository) CountUnread(ctx context.Context, convID uint64, uid string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var n int64
	if err := unreadQuery(r.db.WithContext(ctx), convID, uid).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
