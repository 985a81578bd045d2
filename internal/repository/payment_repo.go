package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/model"

	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.PaymentRequest) error {
	return conn(r.db, tx).WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (*model.PaymentRequest, error) {
	var payment model.PaymentRequest
	err := conn(r.db, tx).WithContext(ctx).Where("order_no = ?", orderNo).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByExternalReference(ctx context.Context, tx *gorm.DB, ref string) (*model.PaymentRequest, error) {
	var payment model.PaymentRequest
	err := conn(r.db, tx).WithContext(ctx).Where("external_reference = ?", ref).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// Transition moves a payment to status `to` only if it is currently in one
// of `from`. ErrStatusInvalid means another writer got there first.
func (r *PaymentRepository) Transition(ctx context.Context, tx *gorm.DB, id int64, from []string, to string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	if model.IsTerminalPayment(to) {
		updates["resolved_at"] = time.Now().UTC()
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.PaymentRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}
	return nil
}

// IncrementAttempts bumps the poll counter of a pending payment and returns
// the new value.
func (r *PaymentRepository) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&model.PaymentRequest{}).
		Where("id = ? AND status = ?", id, model.PaymentStatusPending).
		UpdateColumns(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrStatusInvalid
	}

	var attempts int
	err := r.db.WithContext(ctx).
		Model(&model.PaymentRequest{}).
		Where("id = ?", id).
		Pluck("attempts", &attempts).Error
	return attempts, err
}

// ListUnresolved returns timed-out payments plus pending ones idle since
// before staleBefore, oldest first.
func (r *PaymentRepository) ListUnresolved(ctx context.Context, staleBefore time.Time, limit int) ([]*model.PaymentRequest, error) {
	var payments []*model.PaymentRequest
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND updated_at < ?)",
			model.PaymentStatusTimedOut, model.PaymentStatusPending, staleBefore).
		Order("id ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListByAgentID(ctx context.Context, agentID string, page, pageSize int) ([]*model.PaymentRequest, int64, error) {
	var payments []*model.PaymentRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PaymentRequest{}).Where("agent_id = ?", agentID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error

	return payments, total, err
}
