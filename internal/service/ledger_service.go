package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/logger"
	"github.com/AvTe/RentConnect-sub000/internal/metrics"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/repository"
	"github.com/AvTe/RentConnect-sub000/pkg/idgen"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type LedgerService struct {
	db              *gorm.DB
	cfg             *config.Config
	walletRepo      *repository.WalletRepository
	transactionRepo *repository.TransactionRepository
	events          eventWriter
}

func NewLedgerService(db *gorm.DB, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:              db,
		cfg:             cfg,
		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		events:          eventWriter{outbox: repository.NewOutboxRepository(db)},
	}
}

type AdjustRequest struct {
	WalletID       int64
	Amount         int64
	Type           string
	IdempotencyKey string
	Remark         string
}

func (r AdjustRequest) validate() error {
	if r.WalletID <= 0 {
		return apperr.Validation("wallet id is required")
	}
	if r.Amount == 0 {
		return apperr.Validation("amount must not be zero")
	}
	if !model.IsValidTransactionType(r.Type) {
		return apperr.Validation("unknown transaction type %q", r.Type)
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return apperr.Validation("idempotency key is required")
	}
	return nil
}

func (s *LedgerService) GetBalance(ctx context.Context, walletID int64) (int64, error) {
	wallet, err := s.walletRepo.GetByID(ctx, nil, walletID)
	if err != nil {
		return 0, walletError(err)
	}
	return wallet.Balance, nil
}

func (s *LedgerService) GetWalletByAgent(ctx context.Context, agentID string) (*model.Wallet, error) {
	wallet, err := s.walletRepo.GetByAgentID(ctx, nil, agentID)
	if err != nil {
		return nil, walletError(err)
	}
	return wallet, nil
}

// CreateWallet registers an agent's wallet. It is idempotent: an existing
// wallet is returned with created=false.
func (s *LedgerService) CreateWallet(ctx context.Context, agentID string) (*model.Wallet, bool, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, false, apperr.Validation("agentId is required")
	}
	wallet, created, err := s.walletRepo.GetOrCreate(ctx, agentID)
	if err != nil {
		return nil, false, fmt.Errorf("create wallet: %w", err)
	}
	if created {
		logger.Info().Str("agent_id", agentID).Int64("wallet_id", wallet.ID).Msg("wallet created")
	}
	return wallet, created, nil
}

func (s *LedgerService) GetOrCreateWallet(ctx context.Context, agentID string) (*model.Wallet, error) {
	wallet, _, err := s.CreateWallet(ctx, agentID)
	return wallet, err
}

// Adjust applies one ledger entry in its own transaction. Version conflicts
// are retried; a repeated idempotency key returns the original entry along
// with ErrDuplicateTransaction.
func (s *LedgerService) Adjust(ctx context.Context, req AdjustRequest) (*model.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	trans, err := withConflictRetry(ctx, s.cfg.Ledger.MaxRetries, s.cfg.Ledger.RetryBaseDelay, func() (*model.Transaction, error) {
		var out *model.Transaction
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			out, err = s.AdjustWithin(ctx, tx, req)
			return err
		})
		return out, err
	})

	switch {
	case err == nil:
		metrics.RecordLedgerAdjustment(req.Type, "ok")
		return trans, nil
	case errors.Is(err, apperr.ErrDuplicateTransaction):
		metrics.RecordLedgerAdjustment(req.Type, "duplicate")
		existing, lookupErr := s.transactionRepo.GetByIdempotencyKey(ctx, nil, req.IdempotencyKey)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return existing, err
	case errors.Is(err, apperr.ErrInsufficientFunds):
		metrics.RecordLedgerAdjustment(req.Type, "insufficient_funds")
		metrics.RecordInvariantBreach("negative_balance")
		logger.Error().Int64("wallet_id", req.WalletID).Int64("amount", req.Amount).
			Str("type", req.Type).Msg("adjustment would drive balance negative")
		return nil, err
	case errors.Is(err, apperr.ErrConflict):
		metrics.RecordLedgerAdjustment(req.Type, "conflict")
		return nil, err
	default:
		metrics.RecordLedgerAdjustment(req.Type, "error")
		return nil, err
	}
}

// AdjustWithin applies one ledger entry inside tx. The caller owns the
// transaction and its retry loop: ErrConflict means the wallet version moved.
func (s *LedgerService) AdjustWithin(ctx context.Context, tx *gorm.DB, req AdjustRequest) (*model.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, tx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if existing != nil {
		return existing, apperr.ErrDuplicateTransaction.WithDetails(map[string]any{"transaction_no": existing.TransactionNo})
	}

	wallet, err := s.walletRepo.GetByID(ctx, tx, req.WalletID)
	if err != nil {
		return nil, walletError(err)
	}
	if wallet.Balance+req.Amount < 0 {
		return nil, apperr.ErrInsufficientFunds
	}

	if err := s.walletRepo.ApplyDelta(ctx, tx, wallet.ID, req.Amount, wallet.Version); err != nil {
		switch {
		case errors.Is(err, repository.ErrBalanceNotEnough):
			return nil, apperr.ErrInsufficientFunds
		case errors.Is(err, repository.ErrOptimisticLock):
			return nil, apperr.ErrConflict.WithError(err)
		}
		return nil, fmt.Errorf("apply delta: %w", err)
	}

	trans := &model.Transaction{
		TransactionNo:  idgen.GenerateTransactionNo(),
		WalletID:       wallet.ID,
		AgentID:        wallet.AgentID,
		Amount:         req.Amount,
		Type:           req.Type,
		IdempotencyKey: req.IdempotencyKey,
		Status:         model.TransactionStatusCommitted,
		BalanceBefore:  wallet.Balance,
		BalanceAfter:   wallet.Balance + req.Amount,
		Remark:         req.Remark,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		if repository.IsDuplicateKey(err) {
			// a concurrent writer committed the same key first
			return nil, apperr.ErrDuplicateTransaction.WithError(err)
		}
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	return trans, nil
}

// CreditRequest is an administrative grant of bonus or referral credits.
type CreditRequest struct {
	AgentID        string `json:"-"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	Type           string `json:"type" binding:"required,oneof=bonus referral"`
	IdempotencyKey string `json:"idempotencyKey" binding:"required"`
	Remark         string `json:"remark"`
}

// Credit grants credits to an agent, creating the wallet when needed, and
// announces it with a wallet.credited event.
func (s *LedgerService) Credit(ctx context.Context, req CreditRequest) (*model.Transaction, error) {
	if req.Amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	if req.Type != model.TransactionTypeBonus && req.Type != model.TransactionTypeReferral {
		return nil, apperr.Validation("credit type must be bonus or referral")
	}
	wallet, err := s.GetOrCreateWallet(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	adjust := AdjustRequest{
		WalletID:       wallet.ID,
		Amount:         req.Amount,
		Type:           req.Type,
		IdempotencyKey: req.IdempotencyKey,
		Remark:         req.Remark,
	}
	trans, err := withConflictRetry(ctx, s.cfg.Ledger.MaxRetries, s.cfg.Ledger.RetryBaseDelay, func() (*model.Transaction, error) {
		var out *model.Transaction
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			if out, err = s.AdjustWithin(ctx, tx, adjust); err != nil {
				return err
			}
			return s.events.write(ctx, tx, s.cfg.Kafka.Topic.Wallets, req.AgentID, EventWalletCredited, map[string]any{
				"agent_id":       req.AgentID,
				"wallet_id":      wallet.ID,
				"amount":         out.Amount,
				"type":           out.Type,
				"transaction_no": out.TransactionNo,
				"balance_after":  out.BalanceAfter,
			})
		})
		return out, err
	})
	if errors.Is(err, apperr.ErrDuplicateTransaction) {
		existing, lookupErr := s.transactionRepo.GetByIdempotencyKey(ctx, nil, req.IdempotencyKey)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return existing, err
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordLedgerAdjustment(req.Type, "ok")
	logger.Info().Str("agent_id", req.AgentID).Int64("amount", req.Amount).Str("type", req.Type).Msg("wallet credited")
	return trans, nil
}

type TransactionFilter struct {
	Types    []string
	Since    *time.Time
	Until    *time.Time
	PageSize int
}

func (f TransactionFilter) query() repository.TransactionQuery {
	return repository.TransactionQuery{Types: f.Types, Since: f.Since, Until: f.Until}
}

func (f TransactionFilter) pageSize() int {
	switch {
	case f.PageSize <= 0:
		return defaultPageSize
	case f.PageSize > maxPageSize:
		return maxPageSize
	}
	return f.PageSize
}

// ListTransactions yields the wallet's entries newest first, fetching one
// page at a time. Each range over the result starts from the newest entry.
func (s *LedgerService) ListTransactions(ctx context.Context, walletID int64, filter TransactionFilter) iter.Seq2[*model.Transaction, error] {
	size := filter.pageSize()
	return func(yield func(*model.Transaction, error) bool) {
		var cursor *repository.Cursor
		for {
			page, err := s.transactionRepo.ListPage(ctx, walletID, filter.query(), cursor, size)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
			last := page[len(page)-1]
			cursor = &repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

type TransactionPage struct {
	Items      []*model.Transaction `json:"items"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// ListTransactionsPage returns one page and an opaque cursor for the next.
func (s *LedgerService) ListTransactionsPage(ctx context.Context, walletID int64, filter TransactionFilter, cursor string) (*TransactionPage, error) {
	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	size := filter.pageSize()

	items, err := s.transactionRepo.ListPage(ctx, walletID, filter.query(), after, size)
	if err != nil {
		return nil, err
	}
	page := &TransactionPage{Items: items}
	if len(items) == size {
		last := items[len(items)-1]
		page.NextCursor = encodeCursor(repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func encodeCursor(c repository.Cursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + strconv.FormatInt(c.ID, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (*repository.Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.Validation("malformed cursor")
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, apperr.Validation("malformed cursor")
	}
	nanos, err1 := strconv.ParseInt(ts, 10, 64)
	rowID, err2 := strconv.ParseInt(id, 10, 64)
	if err1 != nil || err2 != nil {
		return nil, apperr.Validation("malformed cursor")
	}
	return &repository.Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: rowID}, nil
}

// VerifyBalance compares the stored balance with the sum of its entries.
func (s *LedgerService) VerifyBalance(ctx context.Context, walletID int64) (balance, sum int64, err error) {
	wallet, err := s.walletRepo.GetByID(ctx, nil, walletID)
	if err != nil {
		return 0, 0, walletError(err)
	}
	sum, err = s.transactionRepo.SumByWallet(ctx, walletID)
	if err != nil {
		return 0, 0, err
	}
	if sum != wallet.Balance {
		metrics.RecordInvariantBreach("balance_mismatch")
		logger.Error().Int64("wallet_id", walletID).Int64("balance", wallet.Balance).Int64("sum", sum).
			Msg("wallet balance does not match its transactions")
	}
	return wallet.Balance, sum, nil
}

func walletError(err error) error {
	if errors.Is(err, repository.ErrWalletNotFound) {
		return apperr.ErrNotFound.WithMessage("Wallet not found")
	}
	return err
}
