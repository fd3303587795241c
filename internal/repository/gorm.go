package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"order-automation-go/internal/models"
	"order-automation-go/internal/order"
)

// GormRepository stores orders in the orders table of a gorm database.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository wraps an already migrated database.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var rec models.OrderRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return rec.ToOrder()
}

func (r *GormRepository) Set(ctx context.Context, o *order.Order) error {
	rec, err := models.NewOrderRecord(o)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.ID, err)
	}
	return nil
}

func (r *GormRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.OrderRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete order %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) List(ctx context.Context) ([]*order.Order, error) {
	var recs []models.OrderRecord
	if err := r.db.WithContext(ctx).Order("created_at desc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	out := make([]*order.Order, 0, len(recs))
	for i := range recs {
		o, err := recs[i].ToOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
