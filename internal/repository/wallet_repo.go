package repository

import (
	"context"
	"errors"

	"github.com/AvTe/RentConnect-sub000/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) GetByAgentID(ctx context.Context, tx *gorm.DB, agentID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := conn(r.db, tx).WithContext(ctx).Where("agent_id = ?", agentID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetOrCreate returns the agent's wallet, inserting an empty one if needed.
// Concurrent callers converge on the same row through the agent_id unique key.
func (r *WalletRepository) GetOrCreate(ctx context.Context, agentID string) (*model.Wallet, bool, error) {
	wallet, err := r.GetByAgentID(ctx, nil, agentID)
	if err == nil {
		return wallet, false, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, false, err
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}},
			DoNothing: true,
		}).
		Create(&model.Wallet{AgentID: agentID})
	if result.Error != nil {
		return nil, false, result.Error
	}

	wallet, err = r.GetByAgentID(ctx, nil, agentID)
	if err != nil {
		return nil, false, err
	}
	return wallet, result.RowsAffected > 0, nil
}

// ApplyDelta moves the balance by delta if the row still carries version.
// Debits additionally require balance >= -delta. A miss is classified by
// re-reading the row inside the same transaction.
func (r *WalletRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, walletID int64, delta int64, version int) error {
	db := conn(r.db, tx)

	query := db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, version)
	if delta < 0 {
		query = query.Where("balance >= ?", -delta)
	}

	result := query.Updates(map[string]interface{}{
		"balance": gorm.Expr("balance + ?", delta),
		"version": gorm.Expr("version + 1"),
	})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		wallet, err := r.GetByID(ctx, db, walletID)
		if err != nil {
			return err
		}
		if wallet.Balance+delta < 0 {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}
	return nil
}
