package repository

import (
	"context"
	"errors"

	"github.com/AvTe/RentConnect-sub000/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeadTierRepository struct {
	db *gorm.DB
}

func NewLeadTierRepository(db *gorm.DB) *LeadTierRepository {
	return &LeadTierRepository{db: db}
}

// Get returns nil, nil for a lead with no registered tier.
func (r *LeadTierRepository) Get(ctx context.Context, leadID string) (*model.LeadTier, error) {
	var lt model.LeadTier
	err := r.db.WithContext(ctx).Where("lead_id = ?", leadID).First(&lt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lt, nil
}

func (r *LeadTierRepository) Upsert(ctx context.Context, lt *model.LeadTier) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lead_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier", "updated_at"}),
	}).Create(lt).Error
}
