package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/lock"
	"github.com/AvTe/RentConnect-sub000/internal/logger"
	"github.com/AvTe/RentConnect-sub000/internal/metrics"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/repository"

	"gorm.io/gorm"
)

const (
	unlockLockTTL  = 10 * time.Second
	unlockLockWait = 3 * time.Second
)

// errAlreadyUnlocked ends a transaction that lost the race for a pair.
var errAlreadyUnlocked = errors.New("lead already unlocked")

type UnlockService struct {
	db         *gorm.DB
	cfg        *config.Config
	ledger     *LedgerService
	pricing    *Pricing
	locker     lock.Locker
	unlockRepo *repository.UnlockRepository
	tierRepo   *repository.LeadTierRepository
	events     eventWriter
}

func NewUnlockService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, pricing *Pricing, locker lock.Locker) *UnlockService {
	return &UnlockService{
		db:         db,
		cfg:        cfg,
		ledger:     ledger,
		pricing:    pricing,
		locker:     locker,
		unlockRepo: repository.NewUnlockRepository(db),
		tierRepo:   repository.NewLeadTierRepository(db),
		events:     eventWriter{outbox: repository.NewOutboxRepository(db)},
	}
}

type UnlockResult struct {
	AlreadyUnlocked bool              `json:"alreadyUnlocked"`
	Unlock          *model.LeadUnlock `json:"unlock"`
}

// CostFor prices a tier. Unknown tiers are a validation error.
func (s *UnlockService) CostFor(leadTier string) (int64, error) {
	return s.pricing.UnlockCost(leadTier)
}

// SetLeadTier registers the tier a lead is sold at. Only configured tiers
// are accepted.
func (s *UnlockService) SetLeadTier(ctx context.Context, leadID, tier string) (*model.LeadTier, error) {
	leadID = strings.TrimSpace(leadID)
	tier = strings.ToLower(strings.TrimSpace(tier))
	if leadID == "" || tier == "" {
		return nil, apperr.Validation("leadId and tier are required")
	}
	if _, err := s.pricing.UnlockCost(tier); err != nil {
		return nil, err
	}
	lt := &model.LeadTier{LeadID: leadID, Tier: tier}
	if err := s.tierRepo.Upsert(ctx, lt); err != nil {
		return nil, fmt.Errorf("save lead tier: %w", err)
	}
	return s.tierRepo.Get(ctx, leadID)
}

// LeadPrice is the registered tier of a lead and what unlocking it costs.
type LeadPrice struct {
	LeadID  string `json:"leadId"`
	Tier    string `json:"tier"`
	Credits int64  `json:"credits"`
}

// PriceOf prices a lead from its registered tier. Leads nobody registered
// are standard.
func (s *UnlockService) PriceOf(ctx context.Context, leadID string) (*LeadPrice, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return nil, apperr.Validation("leadId is required")
	}
	tier := PlanTierStandard
	lt, err := s.tierRepo.Get(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lt != nil {
		tier = lt.Tier
	}
	cost, err := s.pricing.UnlockCost(tier)
	if err != nil {
		return nil, err
	}
	return &LeadPrice{LeadID: leadID, Tier: tier, Credits: cost}, nil
}

// UnlockAtListedPrice unlocks a lead at the price of its registered tier.
func (s *UnlockService) UnlockAtListedPrice(ctx context.Context, agentID, leadID string) (*UnlockResult, error) {
	price, err := s.PriceOf(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return s.UnlockLead(ctx, agentID, leadID, price.Credits)
}

func unlockKey(agentID, leadID string) string {
	return fmt.Sprintf("unlock:%s:%s", agentID, leadID)
}

// UnlockLead debits creditCost and records the unlock in one transaction.
// Repeating it for the same pair returns the first unlock without a debit.
func (s *UnlockService) UnlockLead(ctx context.Context, agentID, leadID string, creditCost int64) (*UnlockResult, error) {
	agentID, leadID = strings.TrimSpace(agentID), strings.TrimSpace(leadID)
	if agentID == "" || leadID == "" {
		return nil, apperr.Validation("agentId and leadId are required")
	}
	if creditCost <= 0 {
		return nil, apperr.Validation("credit cost must be positive")
	}

	if existing, err := s.unlockRepo.Get(ctx, nil, agentID, leadID); err != nil {
		return nil, err
	} else if existing != nil {
		metrics.RecordUnlock("already_unlocked")
		return &UnlockResult{AlreadyUnlocked: true, Unlock: existing}, nil
	}

	wallet, err := s.ledger.GetWalletByAgent(ctx, agentID)
	if errors.Is(err, apperr.ErrNotFound) {
		metrics.RecordUnlock("insufficient_credits")
		return nil, apperr.ErrInsufficientCredits
	}
	if err != nil {
		return nil, err
	}
	if wallet.Balance < creditCost {
		metrics.RecordUnlock("insufficient_credits")
		return nil, insufficientCredits(wallet.Balance, creditCost)
	}

	key := unlockKey(agentID, leadID)
	release, err := s.locker.Acquire(ctx, key, unlockLockTTL, unlockLockWait)
	if err != nil {
		return nil, apperr.ErrConflict.WithError(err)
	}
	defer release()

	unlock, err := withConflictRetry(ctx, s.cfg.Ledger.MaxRetries, s.cfg.Ledger.RetryBaseDelay, func() (*model.LeadUnlock, error) {
		var created *model.LeadUnlock
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			created, err = s.unlockWithin(ctx, tx, wallet, agentID, leadID, creditCost)
			return err
		})
		return created, err
	})

	switch {
	case err == nil:
	case errors.Is(err, errAlreadyUnlocked):
		existing, getErr := s.unlockRepo.Get(ctx, nil, agentID, leadID)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, apperr.ErrConflict.WithError(err)
		}
		metrics.RecordUnlock("already_unlocked")
		return &UnlockResult{AlreadyUnlocked: true, Unlock: existing}, nil
	case errors.Is(err, apperr.ErrInsufficientCredits):
		metrics.RecordUnlock("insufficient_credits")
		return nil, err
	default:
		metrics.RecordUnlock("error")
		return nil, err
	}

	metrics.RecordUnlock("unlocked")
	logger.Info().Str("agent_id", agentID).Str("lead_id", leadID).Int64("credits", creditCost).Msg("lead unlocked")
	return &UnlockResult{Unlock: unlock}, nil
}

func (s *UnlockService) unlockWithin(ctx context.Context, tx *gorm.DB, wallet *model.Wallet, agentID, leadID string, cost int64) (*model.LeadUnlock, error) {
	trans, err := s.ledger.AdjustWithin(ctx, tx, AdjustRequest{
		WalletID:       wallet.ID,
		Amount:         -cost,
		Type:           model.TransactionTypeUnlock,
		IdempotencyKey: unlockKey(agentID, leadID),
		Remark:         "unlock lead " + leadID,
	})
	switch {
	case errors.Is(err, apperr.ErrDuplicateTransaction):
		return nil, errAlreadyUnlocked
	case errors.Is(err, apperr.ErrInsufficientFunds):
		current, getErr := s.ledger.walletRepo.GetByID(ctx, tx, wallet.ID)
		if getErr != nil {
			return nil, apperr.ErrInsufficientCredits
		}
		return nil, insufficientCredits(current.Balance, cost)
	case err != nil:
		return nil, err
	}

	unlock := &model.LeadUnlock{
		AgentID:        agentID,
		LeadID:         leadID,
		WalletID:       wallet.ID,
		CreditsCharged: cost,
		TransactionNo:  trans.TransactionNo,
	}
	if err := s.unlockRepo.Create(ctx, tx, unlock); err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, errAlreadyUnlocked
		}
		return nil, fmt.Errorf("record unlock: %w", err)
	}

	err = s.events.write(ctx, tx, s.cfg.Kafka.Topic.Unlocks, agentID, EventLeadUnlocked, map[string]any{
		"agent_id":        agentID,
		"lead_id":         leadID,
		"credits_charged": cost,
		"transaction_no":  trans.TransactionNo,
		"balance_after":   trans.BalanceAfter,
	})
	if err != nil {
		return nil, err
	}
	return unlock, nil
}

func (s *UnlockService) ListUnlocks(ctx context.Context, agentID string) ([]*model.LeadUnlock, error) {
	return s.unlockRepo.ListByAgentID(ctx, agentID)
}

func insufficientCredits(balance, cost int64) error {
	return apperr.ErrInsufficientCredits.WithDetails(map[string]any{"balance": balance, "required": cost})
}
