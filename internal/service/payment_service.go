package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/gateway"
	"github.com/AvTe/RentConnect-sub000/internal/logger"
	"github.com/AvTe/RentConnect-sub000/internal/metrics"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/repository"
	"github.com/AvTe/RentConnect-sub000/pkg/idgen"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MessageCompleted  = "payment completed"
	MessageFailed     = "payment failed, no charge was made"
	MessageProcessing = "payment is still processing"
)

// Resolution sources, recorded in metrics and logs.
const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
	SourceRequery = "requery"
	SourceSweep   = "sweep"
)

// errPaymentResolved ends a resolution transaction that lost its status swap.
var errPaymentResolved = errors.New("payment already resolved")

type PaymentService struct {
	db          *gorm.DB
	cfg         *config.Config
	gateway     gateway.Adapter
	ledger      *LedgerService
	vouchers    *VoucherService
	pricing     *Pricing
	paymentRepo *repository.PaymentRepository
	events      eventWriter
	now         func() time.Time
}

func NewPaymentService(db *gorm.DB, cfg *config.Config, adapter gateway.Adapter, ledger *LedgerService, vouchers *VoucherService, pricing *Pricing) *PaymentService {
	return &PaymentService{
		db:          db,
		cfg:         cfg,
		gateway:     adapter,
		ledger:      ledger,
		vouchers:    vouchers,
		pricing:     pricing,
		paymentRepo: repository.NewPaymentRepository(db),
		events:      eventWriter{outbox: repository.NewOutboxRepository(db)},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type InitiatePaymentRequest struct {
	AgentID     string
	Provider    string
	Amount      int64
	Destination string
	Metadata    map[string]any
}

// PaymentResult pairs a payment with the message shown to the agent.
type PaymentResult struct {
	Payment *model.PaymentRequest
	Message string
}

func resultOf(p *model.PaymentRequest) *PaymentResult {
	msg := MessageProcessing
	switch p.Status {
	case model.PaymentStatusCompleted:
		msg = MessageCompleted
	case model.PaymentStatusFailed:
		msg = MessageFailed
	}
	return &PaymentResult{Payment: p, Message: msg}
}

// InitiatePayment records the request, asks the provider to start the charge
// and returns without waiting for settlement.
func (s *PaymentService) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*PaymentResult, error) {
	if !model.IsValidProvider(req.Provider) {
		return nil, apperr.Validation("unsupported payment provider %q", req.Provider)
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, apperr.Validation("payment destination is required")
	}
	quote, err := s.pricing.Quote(req.Amount)
	if err != nil {
		return nil, err
	}

	wallet, err := s.ledger.GetOrCreateWallet(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	payment := &model.PaymentRequest{
		OrderNo:      idgen.GenerateOrderNo(),
		AgentID:      wallet.AgentID,
		WalletID:     wallet.ID,
		Provider:     req.Provider,
		Destination:  strings.TrimSpace(req.Destination),
		Amount:       quote.Credits,
		ChargeAmount: quote.Charge,
		Currency:     s.cfg.Payment.Currency,
		PlanTier:     quote.PlanTier,
		BonusCredits: quote.BonusCredits,
		Status:       model.PaymentStatusCreated,
		Metadata:     datatypes.JSONMap(req.Metadata),
	}
	if err := s.paymentRepo.Create(ctx, nil, payment); err != nil {
		return nil, fmt.Errorf("create payment request: %w", err)
	}

	res, err := backoff.Retry(ctx, func() (*gateway.InitiateResult, error) {
		r, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
			Provider:    payment.Provider,
			Amount:      payment.ChargeAmount,
			Currency:    payment.Currency,
			Destination: payment.Destination,
			Reference:   payment.OrderNo,
			Description: fmt.Sprintf("%d credits", payment.Amount),
			Metadata:    req.Metadata,
		})
		if err != nil && !gateway.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return r, err
	}, s.retryOptions()...)
	if err != nil {
		// without an external reference the payment can never be reconciled
		s.abandon(payment, err)
		return nil, gatewayError(err, apperr.ErrPaymentFailed)
	}

	err = s.paymentRepo.Transition(ctx, nil, payment.ID, []string{model.PaymentStatusCreated}, model.PaymentStatusPending, map[string]interface{}{
		"external_reference": res.ExternalReference,
		"redirect_url":       res.RedirectURL,
	})
	if err != nil {
		s.abandon(payment, err)
		return nil, fmt.Errorf("store external reference: %w", err)
	}

	logger.Info().Str("order_no", payment.OrderNo).Str("agent_id", payment.AgentID).Str("provider", payment.Provider).
		Int64("credits", payment.Amount).Str("charge", payment.ChargeAmount.String()).Msg("payment initiated")
	p, err := s.paymentRepo.GetByOrderNo(ctx, nil, payment.OrderNo)
	if err != nil {
		return nil, err
	}
	return resultOf(p), nil
}

func (s *PaymentService) abandon(payment *model.PaymentRequest, cause error) {
	// the caller's context may already be done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.paymentRepo.Transition(ctx, nil, payment.ID, []string{model.PaymentStatusCreated}, model.PaymentStatusFailed, map[string]interface{}{
		"failure_reason": truncateReason(cause.Error()),
	})
	if err != nil {
		logger.Error().Err(err).Str("order_no", payment.OrderNo).Msg("mark payment failed")
	}
	metrics.RecordPaymentResolution(payment.Provider, model.PaymentStatusFailed, "initiate")
	logger.Warn().Err(cause).Str("order_no", payment.OrderNo).Msg("payment initiation failed")
}

// PollStatus performs one client poll: it asks the provider for the status
// and applies it. Once the attempt budget is spent a still-pending payment
// becomes timed_out and is left to the sweep.
func (s *PaymentService) PollStatus(ctx context.Context, orderNo string) (*PaymentResult, error) {
	p, err := s.GetPayment(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusPending {
		return resultOf(p), nil
	}

	qr, err := s.query(ctx, p)
	if err != nil {
		return nil, err
	}

	attempts, err := s.paymentRepo.IncrementAttempts(ctx, p.ID)
	if errors.Is(err, repository.ErrStatusInvalid) {
		return s.current(ctx, orderNo)
	}
	if err != nil {
		return nil, err
	}

	exhausted := attempts >= s.cfg.Payment.MaxPollAttempts
	if err := s.apply(ctx, p, qr, SourcePoll, exhausted); err != nil {
		return nil, err
	}
	return s.current(ctx, orderNo)
}

// CallbackResult is a provider notification already parsed by the handler.
type CallbackResult struct {
	Provider          string
	ExternalReference string
	Status            gateway.Status
	Receipt           string
	Description       string
	Amount            decimal.Decimal
}

// HandleCallback applies a provider webhook. Webhook bodies are not
// authenticated, so the callback only triggers a status query and the
// provider's answer is applied through the polling path. A racing poll and
// webhook still credit once.
func (s *PaymentService) HandleCallback(ctx context.Context, cb CallbackResult) (*PaymentResult, error) {
	p, err := s.paymentRepo.GetByExternalReference(ctx, nil, cb.ExternalReference)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, apperr.ErrNotFound.WithMessage("Payment not found")
	}
	if err != nil {
		return nil, err
	}
	if cb.Provider != "" && cb.Provider != p.Provider {
		return nil, apperr.Validation("callback provider %s does not match payment", cb.Provider)
	}
	if cb.Amount.IsPositive() && !cb.Amount.Equal(p.ChargeAmount) {
		logger.Warn().Str("order_no", p.OrderNo).Str("callback_amount", cb.Amount.String()).
			Str("charge_amount", p.ChargeAmount.String()).Msg("callback amount differs from charge")
	}

	res, err := s.resolve(ctx, p, SourceWebhook)
	if err != nil {
		return nil, err
	}
	if cb.Status == gateway.StatusCompleted && res.Payment.Status != model.PaymentStatusCompleted {
		logger.Warn().Str("order_no", p.OrderNo).Str("status", res.Payment.Status).
			Msg("callback reported success the provider has not confirmed")
	}
	return res, nil
}

// ResolveByReference handles notifications that carry only a reference,
// such as a Pesapal IPN: the status is fetched from the provider.
func (s *PaymentService) ResolveByReference(ctx context.Context, provider, externalReference string) (*PaymentResult, error) {
	p, err := s.paymentRepo.GetByExternalReference(ctx, nil, externalReference)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, apperr.ErrNotFound.WithMessage("Payment not found")
	}
	if err != nil {
		return nil, err
	}
	if p.Provider != provider {
		return nil, apperr.Validation("notification provider %s does not match payment", provider)
	}
	return s.resolve(ctx, p, SourceWebhook)
}

// Requery is the admin path for pending and timed-out payments; it ignores
// the poll budget.
func (s *PaymentService) Requery(ctx context.Context, orderNo string) (*PaymentResult, error) {
	p, err := s.GetPayment(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, p, SourceRequery)
}

func (s *PaymentService) resolve(ctx context.Context, p *model.PaymentRequest, source string) (*PaymentResult, error) {
	if p.Status != model.PaymentStatusPending && p.Status != model.PaymentStatusTimedOut {
		return resultOf(p), nil
	}
	qr, err := s.query(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, p, qr, source, false); err != nil {
		return nil, err
	}
	return s.current(ctx, p.OrderNo)
}

type ReconcileReport struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timedOut"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// ReconcileStale resolves timed-out payments and pending ones idle for
// longer than olderThan. Each payment is handled on its own; a crash leaves
// nothing half done.
func (s *PaymentService) ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (ReconcileReport, error) {
	var report ReconcileReport
	payments, err := s.paymentRepo.ListUnresolved(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return report, fmt.Errorf("list unresolved payments: %w", err)
	}

	for _, p := range payments {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		qr, err := s.query(ctx, p)
		if err != nil {
			report.Errors++
			logger.Warn().Err(err).Str("order_no", p.OrderNo).Msg("sweep query failed")
			continue
		}
		if err := s.apply(ctx, p, qr, SourceSweep, true); err != nil {
			report.Errors++
			logger.Error().Err(err).Str("order_no", p.OrderNo).Msg("sweep resolution failed")
			continue
		}

		current, err := s.paymentRepo.GetByOrderNo(ctx, nil, p.OrderNo)
		if err != nil {
			report.Errors++
			continue
		}
		switch current.Status {
		case model.PaymentStatusCompleted:
			report.Completed++
		case model.PaymentStatusFailed:
			report.Failed++
		case model.PaymentStatusTimedOut:
			report.TimedOut++
		default:
			report.Pending++
		}
	}
	return report, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, orderNo string) (*model.PaymentRequest, error) {
	p, err := s.paymentRepo.GetByOrderNo(ctx, nil, orderNo)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, apperr.ErrNotFound.WithMessage("Payment not found")
	}
	return p, err
}

func (s *PaymentService) ListPayments(ctx context.Context, agentID string, page, pageSize int) ([]*model.PaymentRequest, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.paymentRepo.ListByAgentID(ctx, agentID, page, pageSize)
}

func (s *PaymentService) current(ctx context.Context, orderNo string) (*PaymentResult, error) {
	p, err := s.GetPayment(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return resultOf(p), nil
}

// apply moves the payment according to the provider's answer. A pending
// answer changes nothing unless timeOut is set.
func (s *PaymentService) apply(ctx context.Context, p *model.PaymentRequest, qr *gateway.QueryResult, source string, timeOut bool) error {
	switch qr.Status {
	case gateway.StatusCompleted:
		return s.complete(ctx, p, qr.Receipt, source)
	case gateway.StatusFailed:
		reason := qr.Description
		if reason == "" {
			reason = "declined by provider"
		}
		return s.fail(ctx, p, reason, source)
	default:
		if timeOut && p.Status == model.PaymentStatusPending {
			return s.timeOut(ctx, p, source)
		}
		return nil
	}
}

// complete credits the wallet exactly once: the status swap and the ledger
// entries keyed by the external reference commit together.
func (s *PaymentService) complete(ctx context.Context, p *model.PaymentRequest, receipt, source string) error {
	key := p.ExternalRef()
	if key == "" {
		key = p.OrderNo
	}

	var voucherCode string
	_, err := withConflictRetry(ctx, s.cfg.Ledger.MaxRetries, s.cfg.Ledger.RetryBaseDelay, func() (struct{}, error) {
		voucherCode = ""
		return struct{}{}, s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := s.paymentRepo.Transition(ctx, tx, p.ID,
				model.PaymentSourcesFor(model.PaymentStatusCompleted), model.PaymentStatusCompleted,
				map[string]interface{}{"receipt": receipt})
			if errors.Is(err, repository.ErrStatusInvalid) {
				return errPaymentResolved
			}
			if err != nil {
				return err
			}

			_, err = s.ledger.AdjustWithin(ctx, tx, AdjustRequest{
				WalletID:       p.WalletID,
				Amount:         p.Amount,
				Type:           model.TransactionTypeTopup,
				IdempotencyKey: key,
				Remark:         fmt.Sprintf("%s top-up %s", p.Provider, p.OrderNo),
			})
			if err != nil && !errors.Is(err, apperr.ErrDuplicateTransaction) {
				return err
			}

			if p.BonusCredits > 0 {
				_, err = s.ledger.AdjustWithin(ctx, tx, AdjustRequest{
					WalletID:       p.WalletID,
					Amount:         p.BonusCredits,
					Type:           model.TransactionTypeBonus,
					IdempotencyKey: "bonus:" + key,
					Remark:         fmt.Sprintf("%s package bonus", p.PlanTier),
				})
				if err != nil && !errors.Is(err, apperr.ErrDuplicateTransaction) {
					return err
				}
			}

			if s.vouchers != nil && p.PlanTier != "" {
				voucher, err := s.vouchers.IssueWithin(ctx, tx, p.AgentID, p.PlanTier, p.OrderNo)
				switch {
				case err == nil:
					voucherCode = voucher.Code
				case errors.Is(err, apperr.ErrPoolExhausted):
					logger.Info().Str("order_no", p.OrderNo).Str("plan_tier", p.PlanTier).Msg("no reward voucher available")
				default:
					logger.Warn().Err(err).Str("order_no", p.OrderNo).Msg("reward voucher not issued")
				}
			}

			return s.events.write(ctx, tx, s.cfg.Kafka.Topic.Payments, p.AgentID, EventPaymentCompleted, map[string]any{
				"order_no":           p.OrderNo,
				"agent_id":           p.AgentID,
				"provider":           p.Provider,
				"external_reference": key,
				"credits":            p.Amount,
				"bonus_credits":      p.BonusCredits,
				"charge":             p.ChargeAmount,
				"currency":           p.Currency,
				"receipt":            receipt,
				"voucher_code":       voucherCode,
				"source":             source,
			})
		})
	})
	if errors.Is(err, errPaymentResolved) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete payment %s: %w", p.OrderNo, err)
	}

	metrics.RecordPaymentResolution(p.Provider, model.PaymentStatusCompleted, source)
	logger.Info().Str("order_no", p.OrderNo).Str("agent_id", p.AgentID).Int64("credits", p.Amount).
		Str("source", source).Str("voucher", voucherCode).Msg("payment completed")
	return nil
}

func (s *PaymentService) fail(ctx context.Context, p *model.PaymentRequest, reason, source string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.paymentRepo.Transition(ctx, tx, p.ID,
			model.PaymentSourcesFor(model.PaymentStatusFailed), model.PaymentStatusFailed,
			map[string]interface{}{"failure_reason": truncateReason(reason)})
		if errors.Is(err, repository.ErrStatusInvalid) {
			return errPaymentResolved
		}
		if err != nil {
			return err
		}
		return s.events.write(ctx, tx, s.cfg.Kafka.Topic.Payments, p.AgentID, EventPaymentFailed, map[string]any{
			"order_no": p.OrderNo,
			"agent_id": p.AgentID,
			"provider": p.Provider,
			"reason":   reason,
			"source":   source,
		})
	})
	if errors.Is(err, errPaymentResolved) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail payment %s: %w", p.OrderNo, err)
	}

	metrics.RecordPaymentResolution(p.Provider, model.PaymentStatusFailed, source)
	logger.Info().Str("order_no", p.OrderNo).Str("reason", reason).Str("source", source).Msg("payment failed")
	return nil
}

func (s *PaymentService) timeOut(ctx context.Context, p *model.PaymentRequest, source string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.paymentRepo.Transition(ctx, tx, p.ID,
			[]string{model.PaymentStatusPending}, model.PaymentStatusTimedOut, nil)
		if errors.Is(err, repository.ErrStatusInvalid) {
			return errPaymentResolved
		}
		if err != nil {
			return err
		}
		return s.events.write(ctx, tx, s.cfg.Kafka.Topic.Payments, p.AgentID, EventPaymentTimedOut, map[string]any{
			"order_no": p.OrderNo,
			"agent_id": p.AgentID,
			"provider": p.Provider,
		})
	})
	if errors.Is(err, errPaymentResolved) {
		return nil
	}
	if err != nil {
		return err
	}

	metrics.RecordPaymentResolution(p.Provider, model.PaymentStatusTimedOut, source)
	logger.Warn().Str("order_no", p.OrderNo).Msg("payment timed out, left for reconciliation")
	return nil
}

func (s *PaymentService) query(ctx context.Context, p *model.PaymentRequest) (*gateway.QueryResult, error) {
	res, err := backoff.Retry(ctx, func() (*gateway.QueryResult, error) {
		r, err := s.gateway.Query(ctx, p.Provider, p.ExternalRef())
		if err != nil && !gateway.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return r, err
	}, s.retryOptions()...)
	if err != nil {
		return nil, gatewayError(err, apperr.ErrGatewayUnavailable)
	}
	return res, nil
}

func (s *PaymentService) retryOptions() []backoff.RetryOption {
	r := s.cfg.Payment.Retry
	tries := r.MaxTries
	if tries < 1 {
		tries = 1
	}
	return []backoff.RetryOption{
		backoff.WithBackOff(exponential(r.InitialInterval, r.MaxInterval)),
		backoff.WithMaxTries(tries),
	}
}

// gatewayError maps adapter failures; fallback covers provider rejections.
func gatewayError(err error, fallback *apperr.AppError) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.ErrPaymentTimeout.WithError(err)
	case errors.Is(err, gateway.ErrInvalidDestination):
		return apperr.ErrInvalidDestination.WithError(err)
	case errors.Is(err, gateway.ErrAmountOutOfRange):
		return apperr.ErrAmountOutOfRange.WithError(err)
	case gateway.IsTransient(err):
		return apperr.ErrGatewayUnavailable.WithError(err)
	case errors.Is(err, gateway.ErrUnknownProvider):
		return apperr.Validation("unsupported payment provider").WithError(err)
	}
	return fallback.WithError(err)
}

func truncateReason(s string) string {
	return gateway.Truncate(s, 250)
}
