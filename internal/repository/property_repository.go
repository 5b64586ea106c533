package repository

import (
	"context"
	"errors"

	"github.com/shinyyama/estate-chat/internal/model"
	"gorm.io/gorm"
)

type PropertyRepository interface {
	Create(ctx context.Context, p *model.Property) error
	FindByID(ctx context.Context, id uint64) (*model.Property, error)
	Count(ctx context.Context) (int64, error)
}

type propertyRepository struct {
	db *gorm.DB
}

var ErrDBNotReady = errors.New("database not initialized")

func NewPropertyRepository(db *gorm.DB) PropertyRepository {
	return &propertyRepository{db: db}
}

func (r *propertyRepository) Create(ctx context.Context, p *model.Property) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *propertyRepository) FindByID(ctx context.Context, id uint64) (*model.Property, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var p model.Property
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *propertyRepository) Count(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Property{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
