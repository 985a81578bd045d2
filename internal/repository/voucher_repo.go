package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/model"

	"gorm.io/gorm"
)

type VoucherRepository struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

func (r *VoucherRepository) CreateBatch(ctx context.Context, tx *gorm.DB, vouchers []*model.Voucher) error {
	return conn(r.db, tx).WithContext(ctx).CreateInBatches(vouchers, 100).Error
}

// ExistingCodes returns the subset of codes already stored.
func (r *VoucherRepository) ExistingCodes(ctx context.Context, tx *gorm.DB, codes []string) ([]string, error) {
	var existing []string
	if len(codes) == 0 {
		return existing, nil
	}
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.Voucher{}).
		Where("code IN ?", codes).
		Pluck("code", &existing).Error
	return existing, err
}

func (r *VoucherRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Voucher, error) {
	var voucher model.Voucher
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &voucher, nil
}

// GetByIssueReference returns nil, nil when nothing was issued for ref.
func (r *VoucherRepository) GetByIssueReference(ctx context.Context, tx *gorm.DB, ref string) (*model.Voucher, error) {
	var voucher model.Voucher
	err := conn(r.db, tx).WithContext(ctx).Where("issue_reference = ?", ref).First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &voucher, nil
}

// NextClaimable returns the oldest unexpired pool voucher usable for tier,
// or nil when the pool has none.
func (r *VoucherRepository) NextClaimable(ctx context.Context, tx *gorm.DB, tier string, now time.Time) (*model.Voucher, error) {
	var voucher model.Voucher
	err := conn(r.db, tx).WithContext(ctx).
		Where("status = ?", model.VoucherStatusPool).
		Where("plan_tier IN ?", []string{tier, model.PlanTierAny}).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Order("id ASC").
		First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &voucher, nil
}

// Claim assigns a pool voucher to agentID. It returns false if the voucher
// left the pool since it was read.
func (r *VoucherRepository) Claim(ctx context.Context, tx *gorm.DB, id int64, agentID string, reference *string, now time.Time) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Voucher{}).
		Where("id = ? AND status = ?", id, model.VoucherStatusPool).
		Updates(map[string]interface{}{
			"status":            model.VoucherStatusIssued,
			"assigned_agent_id": agentID,
			"issue_reference":   reference,
			"issued_at":         now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *VoucherRepository) Transition(ctx context.Context, tx *gorm.DB, id int64, from []string, to string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Voucher{}).
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

// ExpireDue moves every unredeemed, uncancelled voucher whose expiry has
// passed to expired.
func (r *VoucherRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Voucher{}).
		Where("status IN ?", model.VoucherSourcesFor(model.VoucherStatusExpired)).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Update("status", model.VoucherStatusExpired)
	return result.RowsAffected, result.Error
}

func (r *VoucherRepository) ListByAgentID(ctx context.Context, agentID string) ([]*model.Voucher, error) {
	var vouchers []*model.Voucher
	err := r.db.WithContext(ctx).
		Where("assigned_agent_id = ?", agentID).
		Order("issued_at DESC").
		Find(&vouchers).Error
	return vouchers, err
}

type TierCount struct {
	PlanTier string `json:"plan_tier"`
	Count    int64  `json:"count"`
}

func (r *VoucherRepository) CountPoolByTier(ctx context.Context) ([]TierCount, error) {
	var counts []TierCount
	err := r.db.WithContext(ctx).
		Model(&model.Voucher{}).
		Select("plan_tier, COUNT(*) AS count").
		Where("status = ?", model.VoucherStatusPool).
		Group("plan_tier").
		Order("plan_tier").
		Scan(&counts).Error
	return counts, err
}
