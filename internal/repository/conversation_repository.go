package repository

import (
	"context"
	"errors"

	"github.com/shinyyama/estate-chat/internal/model"
	"gorm.io/gorm"
)

type ConversationRepository interface {
	// FindOrCreate returns the conversation for (property, pair), creating it
	// together with both member rows when absent. created reports an insert.
	// An existing conversation keeps its archive state.
	FindOrCreate(ctx context.Context, propertyID uint64, buyerUID, ownerUID string) (cv *model.Conversation, created bool, err error)
	FindByID(ctx context.Context, id uint64) (*model.Conversation, error)
	FindActiveByUser(ctx context.Context, uid string) ([]model.Conversation, error)
	SetActive(ctx context.Context, id uint64, active bool) error
	SumUnread(ctx context.Context, uid string) (int64, error)
	IsParticipant(ctx context.Context, id uint64, uid string) (bool, error)
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) FindOrCreate(ctx context.Context, propertyID uint64, buyerUID, ownerUID string) (*model.Conversation, bool, error) {
	if r.db == nil {
		return nil, false, ErrDBNotReady
	}
	a, b := model.OrderedPair(buyerUID, ownerUID)

	var (
		cv      model.Conversation
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := findByPair(tx, propertyID, a, b, &cv)
		if err != nil {
			return err
		}
		if found {
			// Archived conversations are returned as they are.
			return nil
		}

		cv = model.Conversation{
			PropertyID:   propertyID,
			ParticipantA: a,
			ParticipantB: b,
			BuyerUID:     buyerUID,
			OwnerUID:     ownerUID,
			IsActive:     true,
		}
		if err := tx.Create(&cv).Error; err != nil {
			return err
		}
		members := []model.ConversationMember{
			{ConversationID: cv.ID, UserUID: a},
			{ConversationID: cv.ID, UserUID: b},
		}
		if err := tx.Create(&members).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		// A concurrent caller may have won the unique index race; return its row.
		var winner model.Conversation
		if found, ferr := findByPair(r.db.WithContext(ctx), propertyID, a, b, &winner); ferr == nil && found {
			return &winner, false, nil
		}
		return nil, false, err
	}
	return &cv, created, nil
}

func findByPair(tx *gorm.DB, propertyID uint64, a, b string, out *model.Conversation) (bool, error) {
	res := tx.Where("property_id = ? AND participant_a = ? AND participant_b = ?", propertyID, a, b).
		Limit(1).
		Find(out)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *conversationRepository) FindByID(ctx context.Context, id uint64) (*model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var cv model.Conversation
	if err := r.db.WithContext(ctx).
		Preload("Members").
		Preload("Property").
		First(&cv, id).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

func (r *conversationRepository) FindActiveByUser(ctx context.Context, uid string) ([]model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.Conversation
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND (participant_a = ? OR participant_b = ?)", true, uid, uid).
		Preload("Members").
		Preload("Property").
		Order("updated_at DESC, id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *conversationRepository) SetActive(ctx context.Context, id uint64, active bool) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", id).Update("is_active", active).Error
}

func (r *conversationRepository) SumUnread(ctx context.Context, uid string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.ConversationMember{}).
		Joins("JOIN conversations ON conversations.id = conversation_members.conversation_id").
		Where("conversation_members.user_uid = ? AND conversations.is_active = ?", uid, true).
		Select("COALESCE(SUM(conversation_members.unread_count), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *conversationRepository) IsParticipant(ctx context.Context, id uint64, uid string) (bool, error) {
	if r.db == nil {
		return false, ErrDBNotReady
	}
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ? AND (participant_a = ? OR participant_b = ?)", id, uid, uid).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsNotFound reports whether err is the store's missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
