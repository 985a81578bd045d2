package repository

import (
	"context"
	"errors"

	"github.com/AvTe/RentConnect-sub000/internal/model"

	"gorm.io/gorm"
)

type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) Create(ctx context.Context, tx *gorm.DB, report *model.BadLeadReport) error {
	return conn(r.db, tx).WithContext(ctx).Create(report).Error
}

func (r *ReportRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.BadLeadReport, error) {
	var report model.BadLeadReport
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return &report, nil
}

// FindActive returns the pending or approved report for the pair, if any.
func (r *ReportRepository) FindActive(ctx context.Context, tx *gorm.DB, agentID, leadID string) (*model.BadLeadReport, error) {
	var report model.BadLeadReport
	err := conn(r.db, tx).WithContext(ctx).
		Where("agent_id = ? AND lead_id = ?", agentID, leadID).
		Where("status IN ?", []string{model.ReportStatusPending, model.ReportStatusApproved}).
		First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// Resolve moves a pending report to `to`. ErrStatusInvalid means it was
// already resolved.
func (r *ReportRepository) Resolve(ctx context.Context, tx *gorm.DB, id int64, to string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.BadLeadReport{}).
		Where("id = ? AND status = ?", id, model.ReportStatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}
	return nil
}

func (r *ReportRepository) List(ctx context.Context, status string, page, pageSize int) ([]*model.BadLeadReport, int64, error) {
	var reports []*model.BadLeadReport
	var total int64

	query := r.db.WithContext(ctx).Model(&model.BadLeadReport{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&reports).Error

	return reports, total, err
}
