package pricehistory

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repo price_history 仓储。只有 Append / List，台账不提供更新和删除。
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Append(ctx context.Context, entries []Entry) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repo db is nil")
	}
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *Repo) ListByVehicle(ctx context.Context, vehicleID string, limit int) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("vehicle_id = ?", vehicleID).
		Order("change_date desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
