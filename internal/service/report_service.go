package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/logger"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/repository"

	"gorm.io/gorm"
)

type ReportService struct {
	db         *gorm.DB
	cfg        *config.Config
	ledger     *LedgerService
	reportRepo *repository.ReportRepository
	unlockRepo *repository.UnlockRepository
	events     eventWriter
}

func NewReportService(db *gorm.DB, cfg *config.Config, ledger *LedgerService) *ReportService {
	return &ReportService{
		db:         db,
		cfg:        cfg,
		ledger:     ledger,
		reportRepo: repository.NewReportRepository(db),
		unlockRepo: repository.NewUnlockRepository(db),
		events:     eventWriter{outbox: repository.NewOutboxRepository(db)},
	}
}

type SubmitReportRequest struct {
	AgentID string `json:"agentId" binding:"required"`
	LeadID  string `json:"leadId" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
	Details string `json:"details"`
}

// SubmitReport opens a dispute for a lead the agent paid to unlock. One
// pending or approved report may exist per (agent, lead).
func (s *ReportService) SubmitReport(ctx context.Context, req SubmitReportRequest) (*model.BadLeadReport, error) {
	agentID, leadID := strings.TrimSpace(req.AgentID), strings.TrimSpace(req.LeadID)
	if agentID == "" || leadID == "" || strings.TrimSpace(req.Reason) == "" {
		return nil, apperr.Validation("agentId, leadId and reason are required")
	}

	unlock, err := s.unlockRepo.Get(ctx, nil, agentID, leadID)
	if err != nil {
		return nil, err
	}
	if unlock == nil {
		return nil, apperr.Validation("lead was not unlocked")
	}

	active, err := s.reportRepo.FindActive(ctx, nil, agentID, leadID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.ErrDuplicateReport.WithDetails(map[string]any{"reportId": active.ID, "status": active.Status})
	}

	activeKey := model.ReportActiveKey(agentID, leadID)
	report := &model.BadLeadReport{
		AgentID:     agentID,
		LeadID:      leadID,
		WalletID:    unlock.WalletID,
		Reason:      strings.TrimSpace(req.Reason),
		Details:     req.Details,
		Status:      model.ReportStatusPending,
		CreditsPaid: unlock.CreditsCharged,
		ActiveKey:   &activeKey,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.reportRepo.Create(ctx, tx, report); err != nil {
			if repository.IsDuplicateKey(err) {
				return apperr.ErrDuplicateReport.WithError(err)
			}
			return fmt.Errorf("create report: %w", err)
		}
		return s.events.write(ctx, tx, s.cfg.Kafka.Topic.Reports, agentID, EventReportSubmitted, map[string]any{
			"report_id":    report.ID,
			"agent_id":     agentID,
			"lead_id":      leadID,
			"reason":       report.Reason,
			"credits_paid": report.CreditsPaid,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Int64("report_id", report.ID).Str("agent_id", agentID).Str("lead_id", leadID).Msg("bad lead reported")
	return report, nil
}

// Approve resolves a pending report and refunds the credits paid. The
// pending->approved swap and the refund commit together, so the refund
// happens at most once.
func (s *ReportService) Approve(ctx context.Context, reportID int64, adminID, notes string) (*model.BadLeadReport, error) {
	report, err := s.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.Status != model.ReportStatusPending {
		return nil, alreadyResolved(report)
	}

	_, err = withConflictRetry(ctx, s.cfg.Ledger.MaxRetries, s.cfg.Ledger.RetryBaseDelay, func() (struct{}, error) {
		return struct{}{}, s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := s.reportRepo.Resolve(ctx, tx, reportID, model.ReportStatusApproved, map[string]interface{}{
				"resolved_by":     adminID,
				"resolved_at":     time.Now().UTC(),
				"admin_notes":     notes,
				"refunded_amount": report.CreditsPaid,
			})
			if errors.Is(err, repository.ErrStatusInvalid) {
				return apperr.ErrAlreadyResolved
			}
			if err != nil {
				return err
			}

			trans, err := s.ledger.AdjustWithin(ctx, tx, AdjustRequest{
				WalletID:       report.WalletID,
				Amount:         report.CreditsPaid,
				Type:           model.TransactionTypeRefund,
				IdempotencyKey: fmt.Sprintf("refund:%d", reportID),
				Remark:         "bad lead refund " + report.LeadID,
			})
			if errors.Is(err, apperr.ErrDuplicateTransaction) {
				return apperr.ErrAlreadyResolved
			}
			if err != nil {
				return err
			}

			return s.events.write(ctx, tx, s.cfg.Kafka.Topic.Reports, report.AgentID, EventReportResolved, map[string]any{
				"report_id":       reportID,
				"agent_id":        report.AgentID,
				"lead_id":         report.LeadID,
				"status":          model.ReportStatusApproved,
				"refunded_amount": report.CreditsPaid,
				"transaction_no":  trans.TransactionNo,
				"resolved_by":     adminID,
			})
		})
	})
	if errors.Is(err, apperr.ErrAlreadyResolved) {
		if current, getErr := s.GetReport(ctx, reportID); getErr == nil {
			return nil, alreadyResolved(current)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Int64("report_id", reportID).Str("admin_id", adminID).Int64("refund", report.CreditsPaid).Msg("bad lead report approved")
	return s.GetReport(ctx, reportID)
}

// Reject closes a pending report without a refund; the pair may be
// reported again afterwards.
func (s *ReportService) Reject(ctx context.Context, reportID int64, adminID, reason string) (*model.BadLeadReport, error) {
	report, err := s.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.Status != model.ReportStatusPending {
		return nil, alreadyResolved(report)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.reportRepo.Resolve(ctx, tx, reportID, model.ReportStatusRejected, map[string]interface{}{
			"resolved_by":      adminID,
			"resolved_at":      time.Now().UTC(),
			"rejection_reason": reason,
			"active_key":       nil,
		})
		if errors.Is(err, repository.ErrStatusInvalid) {
			return apperr.ErrAlreadyResolved
		}
		if err != nil {
			return err
		}
		return s.events.write(ctx, tx, s.cfg.Kafka.Topic.Reports, report.AgentID, EventReportResolved, map[string]any{
			"report_id":   reportID,
			"agent_id":    report.AgentID,
			"lead_id":     report.LeadID,
			"status":      model.ReportStatusRejected,
			"reason":      reason,
			"resolved_by": adminID,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Int64("report_id", reportID).Str("admin_id", adminID).Msg("bad lead report rejected")
	return s.GetReport(ctx, reportID)
}

func (s *ReportService) GetReport(ctx context.Context, reportID int64) (*model.BadLeadReport, error) {
	report, err := s.reportRepo.GetByID(ctx, nil, reportID)
	if errors.Is(err, repository.ErrReportNotFound) {
		return nil, apperr.ErrNotFound.WithMessage("Report not found")
	}
	return report, err
}

func (s *ReportService) ListReports(ctx context.Context, status string, page, pageSize int) ([]*model.BadLeadReport, int64, error) {
	switch status {
	case "", model.ReportStatusPending, model.ReportStatusApproved, model.ReportStatusRejected:
	default:
		return nil, 0, apperr.Validation("unknown report status %q", status)
	}
	page, pageSize = normalizePage(page, pageSize)
	return s.reportRepo.List(ctx, status, page, pageSize)
}

func alreadyResolved(report *model.BadLeadReport) error {
	return apperr.ErrAlreadyResolved.WithDetails(map[string]any{"status": report.Status})
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
