package repository

import (
	"context"
	"errors"

	"github.com/AvTe/RentConnect-sub000/internal/model"

	"gorm.io/gorm"
)

type UnlockRepository struct {
	db *gorm.DB
}

func NewUnlockRepository(db *gorm.DB) *UnlockRepository {
	return &UnlockRepository{db: db}
}

func (r *UnlockRepository) Create(ctx context.Context, tx *gorm.DB, unlock *model.LeadUnlock) error {
	return conn(r.db, tx).WithContext(ctx).Create(unlock).Error
}

// Get returns nil, nil when the agent has not unlocked the lead.
func (r *UnlockRepository) Get(ctx context.Context, tx *gorm.DB, agentID, leadID string) (*model.LeadUnlock, error) {
	var unlock model.LeadUnlock
	err := conn(r.db, tx).WithContext(ctx).
		Where("agent_id = ? AND lead_id = ?", agentID, leadID).
		First(&unlock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &unlock, nil
}

func (r *UnlockRepository) ListByAgentID(ctx context.Context, agentID string) ([]*model.LeadUnlock, error) {
	var unlocks []*model.LeadUnlock
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Find(&unlocks).Error
	return unlocks, err
}
