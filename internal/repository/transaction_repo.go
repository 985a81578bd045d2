package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/model"

	"gorm.io/gorm"
)

// TransactionQuery narrows a wallet's transaction listing.
type TransactionQuery struct {
	Types []string
	Since *time.Time
	Until *time.Time
}

// Cursor is the keyset position of the last row of a page.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	return conn(r.db, tx).WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*model.Transaction, error) {
	var trans model.Transaction
	err := conn(r.db, tx).WithContext(ctx).Where("idempotency_key = ?", key).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// ListPage returns up to limit rows ordered newest first, strictly after the
// cursor when one is given.
func (r *TransactionRepository) ListPage(ctx context.Context, walletID int64, q TransactionQuery, after *Cursor, limit int) ([]*model.Transaction, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("wallet_id = ?", walletID)

	if len(q.Types) > 0 {
		query = query.Where("type IN ?", q.Types)
	}
	if q.Since != nil {
		query = query.Where("created_at >= ?", *q.Since)
	}
	if q.Until != nil {
		query = query.Where("created_at < ?", *q.Until)
	}
	if after != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}

	var transactions []*model.Transaction
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

// SumByWallet totals every committed amount for the wallet.
func (r *TransactionRepository) SumByWallet(ctx context.Context, walletID int64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("wallet_id = ? AND status = ?", walletID, model.TransactionStatusCommitted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
