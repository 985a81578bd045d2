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
	"github.com/AvTe/RentConnect-sub000/internal/metrics"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// claims lost to concurrent issuers before giving up with ErrConflict
const maxClaimAttempts = 5

type VoucherService struct {
	db          *gorm.DB
	cfg         *config.Config
	voucherRepo *repository.VoucherRepository
	events      eventWriter
	now         func() time.Time
}

func NewVoucherService(db *gorm.DB, cfg *config.Config) *VoucherService {
	return &VoucherService{
		db:          db,
		cfg:         cfg,
		voucherRepo: repository.NewVoucherRepository(db),
		events:      eventWriter{outbox: repository.NewOutboxRepository(db)},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type VoucherSpec struct {
	Code        string          `json:"code"`
	Value       decimal.Decimal `json:"value"`
	Currency    string          `json:"currency"`
	Merchant    string          `json:"merchant"`
	Description string          `json:"description"`
	PlanTier    string          `json:"planTier"`
	ExpiresAt   *time.Time      `json:"expiresAt"`
}

// AddToPool inserts a batch of vouchers. The batch is rejected as a whole if
// any code repeats within it or already exists.
func (s *VoucherService) AddToPool(ctx context.Context, specs []VoucherSpec) ([]*model.Voucher, error) {
	if len(specs) == 0 {
		return nil, apperr.Validation("at least one voucher is required")
	}

	vouchers := make([]*model.Voucher, 0, len(specs))
	codes := make([]string, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	var repeated []string
	for i, spec := range specs {
		code := strings.TrimSpace(spec.Code)
		if code == "" {
			return nil, apperr.Validation("voucher %d has an empty code", i)
		}
		if !spec.Value.IsPositive() {
			return nil, apperr.Validation("voucher %s must have a positive value", code)
		}
		if strings.TrimSpace(spec.Merchant) == "" {
			return nil, apperr.Validation("voucher %s has no merchant", code)
		}
		if seen[code] {
			repeated = append(repeated, code)
			continue
		}
		seen[code] = true
		codes = append(codes, code)

		tier := strings.ToLower(strings.TrimSpace(spec.PlanTier))
		if tier == "" {
			tier = model.PlanTierAny
		}
		currency := spec.Currency
		if currency == "" {
			currency = "KES"
		}
		var expiresAt *time.Time
		if spec.ExpiresAt != nil {
			t := spec.ExpiresAt.UTC()
			expiresAt = &t
		}
		vouchers = append(vouchers, &model.Voucher{
			Code:        code,
			Value:       spec.Value,
			Currency:    currency,
			Merchant:    strings.TrimSpace(spec.Merchant),
			Description: spec.Description,
			PlanTier:    tier,
			Status:      model.VoucherStatusPool,
			ExpiresAt:   expiresAt,
		})
	}
	if len(repeated) > 0 {
		return nil, apperr.Validation("duplicate voucher codes in batch").WithDetails(map[string]any{"codes": repeated})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.voucherRepo.ExistingCodes(ctx, tx, codes)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperr.Validation("voucher codes already exist").WithDetails(map[string]any{"codes": existing})
		}
		if err := s.voucherRepo.CreateBatch(ctx, tx, vouchers); err != nil {
			if repository.IsDuplicateKey(err) {
				return apperr.Validation("voucher codes already exist").WithError(err)
			}
			return fmt.Errorf("insert vouchers: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Int("count", len(vouchers)).Msg("vouchers added to pool")
	return vouchers, nil
}

// IssueFromPool claims the oldest matching pool voucher for the agent.
func (s *VoucherService) IssueFromPool(ctx context.Context, agentID, planTier string) (*model.Voucher, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, apperr.Validation("agentId is required")
	}
	return withConflictRetry(ctx, s.cfg.Ledger.MaxRetries, s.cfg.Ledger.RetryBaseDelay, func() (*model.Voucher, error) {
		var voucher *model.Voucher
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			voucher, err = s.IssueWithin(ctx, tx, agentID, planTier, "")
			return err
		})
		return voucher, err
	})
}

// IssueWithin claims a voucher inside the caller's transaction. A non-empty
// reference makes the call idempotent: the voucher already issued for it is
// returned.
func (s *VoucherService) IssueWithin(ctx context.Context, tx *gorm.DB, agentID, planTier, reference string) (*model.Voucher, error) {
	tier := strings.ToLower(strings.TrimSpace(planTier))
	if tier == "" {
		tier = PlanTierStandard
	}

	var ref *string
	if reference != "" {
		existing, err := s.voucherRepo.GetByIssueReference(ctx, tx, reference)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		ref = &reference
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		now := s.now()
		candidate, err := s.voucherRepo.NextClaimable(ctx, tx, tier, now)
		if err != nil {
			return nil, fmt.Errorf("find claimable voucher: %w", err)
		}
		if candidate == nil {
			metrics.RecordVoucherIssue(tier, "exhausted")
			return nil, apperr.ErrPoolExhausted.WithDetails(map[string]any{"planTier": tier})
		}

		claimed, err := s.voucherRepo.Claim(ctx, tx, candidate.ID, agentID, ref, now)
		if err != nil {
			if ref != nil && repository.IsDuplicateKey(err) {
				return nil, apperr.ErrConflict.WithError(err)
			}
			return nil, fmt.Errorf("claim voucher: %w", err)
		}
		if !claimed {
			continue
		}

		voucher, err := s.voucherRepo.GetByID(ctx, tx, candidate.ID)
		if err != nil {
			return nil, err
		}
		err = s.events.write(ctx, tx, s.cfg.Kafka.Topic.Vouchers, agentID, EventVoucherIssued, map[string]any{
			"voucher_id": voucher.ID,
			"code":       voucher.Code,
			"agent_id":   agentID,
			"plan_tier":  voucher.PlanTier,
			"value":      voucher.Value,
			"merchant":   voucher.Merchant,
			"reference":  reference,
		})
		if err != nil {
			return nil, err
		}
		metrics.RecordVoucherIssue(tier, "issued")
		return voucher, nil
	}

	metrics.RecordVoucherIssue(tier, "conflict")
	return nil, apperr.ErrConflict.WithMessage("Voucher pool is busy, please retry")
}

// MarkViewed records that the assigned agent opened the voucher. Repeating
// it is a no-op.
func (s *VoucherService) MarkViewed(ctx context.Context, voucherID int64, agentID string) (*model.Voucher, error) {
	voucher, err := s.get(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if !voucher.AssignedTo(agentID) {
		return nil, apperr.ErrForbidden.WithMessage("Voucher is not assigned to this agent")
	}
	if voucher.Status == model.VoucherStatusViewed {
		return voucher, nil
	}

	err = s.voucherRepo.Transition(ctx, nil, voucherID,
		[]string{model.VoucherStatusIssued}, model.VoucherStatusViewed,
		map[string]interface{}{"viewed_at": s.now()})
	if err != nil && !errors.Is(err, repository.ErrStatusInvalid) {
		return nil, err
	}

	voucher, err = s.get(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if voucher.Status != model.VoucherStatusViewed {
		return nil, apperr.ErrInvalidTransition.WithDetails(map[string]any{"status": voucher.Status})
	}
	return voucher, nil
}

// UpdateStatus is the admin transition to redeemed or cancelled.
func (s *VoucherService) UpdateStatus(ctx context.Context, voucherID int64, status string) (*model.Voucher, error) {
	fields := map[string]interface{}{}
	switch status {
	case model.VoucherStatusRedeemed:
		fields["redeemed_at"] = s.now()
	case model.VoucherStatusCancelled:
		fields["cancelled_at"] = s.now()
	default:
		return nil, apperr.Validation("status must be %s or %s", model.VoucherStatusRedeemed, model.VoucherStatusCancelled)
	}

	voucher, err := s.get(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if !model.CanTransitionVoucher(voucher.Status, status) {
		return nil, apperr.ErrInvalidTransition.WithDetails(map[string]any{"from": voucher.Status, "to": status})
	}

	err = s.voucherRepo.Transition(ctx, nil, voucherID, model.VoucherSourcesFor(status), status, fields)
	if errors.Is(err, repository.ErrStatusInvalid) {
		return nil, apperr.ErrInvalidTransition.WithDetails(map[string]any{"to": status})
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Int64("voucher_id", voucherID).Str("from", voucher.Status).Str("to", status).Msg("voucher status updated")
	return s.get(ctx, voucherID)
}

// ExpireDue expires every live voucher whose expiry is at or before now.
func (s *VoucherService) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.voucherRepo.ExpireDue(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire vouchers: %w", err)
	}
	if n > 0 {
		logger.Info().Int64("count", n).Msg("vouchers expired")
	}
	return n, nil
}

func (s *VoucherService) ListForAgent(ctx context.Context, agentID string) ([]*model.Voucher, error) {
	return s.voucherRepo.ListByAgentID(ctx, agentID)
}

func (s *VoucherService) PoolStats(ctx context.Context) ([]repository.TierCount, error) {
	return s.voucherRepo.CountPoolByTier(ctx)
}

func (s *VoucherService) get(ctx context.Context, id int64) (*model.Voucher, error) {
	voucher, err := s.voucherRepo.GetByID(ctx, nil, id)
	if errors.Is(err, repository.ErrVoucherNotFound) {
		return nil, apperr.ErrNotFound.WithMessage("Voucher not found")
	}
	return voucher, err
}
