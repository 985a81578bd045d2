package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	ProviderMpesa   = "mpesa"
	ProviderPesapal = "pesapal"
)

const (
	PaymentStatusCreated   = "created"
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusTimedOut  = "timed_out"
)

var paymentTransitions = map[string][]string{
	PaymentStatusCreated:  {PaymentStatusPending, PaymentStatusFailed},
	PaymentStatusPending:  {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusTimedOut},
	PaymentStatusTimedOut: {PaymentStatusCompleted, PaymentStatusFailed},
}

// PaymentSourcesFor lists the statuses a payment may leave to reach target.
func PaymentSourcesFor(target string) []string {
	var from []string
	for src, targets := range paymentTransitions {
		for _, t := range targets {
			if t == target {
				from = append(from, src)
			}
		}
	}
	return from
}

func CanTransitionPayment(current, target string) bool {
	return contains(paymentTransitions[current], target)
}

func IsTerminalPayment(status string) bool {
	return status == PaymentStatusCompleted || status == PaymentStatusFailed
}

func IsValidProvider(p string) bool {
	return p == ProviderMpesa || p == ProviderPesapal
}

type PaymentRequest struct {
	ID                int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo           string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	AgentID           string            `gorm:"type:varchar(64);index;not null" json:"agent_id"`
	WalletID          int64             `gorm:"index;not null" json:"wallet_id"`
	Provider          string            `gorm:"type:varchar(20);not null" json:"provider"`
	Destination       string            `gorm:"type:varchar(64)" json:"destination"`
	ExternalReference *string           `gorm:"type:varchar(128);uniqueIndex" json:"external_reference"`
	Amount            int64             `gorm:"not null" json:"amount"`
	ChargeAmount      decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"charge_amount"`
	Currency          string            `gorm:"type:varchar(8);not null" json:"currency"`
	PlanTier          string            `gorm:"type:varchar(32)" json:"plan_tier"`
	BonusCredits      int64             `gorm:"not null;default:0" json:"bonus_credits"`
	Status            string            `gorm:"type:varchar(20);index:idx_status_updated,priority:1;not null" json:"status"`
	Attempts          int               `gorm:"not null;default:0" json:"attempts"`
	Receipt           string            `gorm:"type:varchar(64)" json:"receipt"`
	FailureReason     string            `gorm:"type:varchar(256)" json:"failure_reason"`
	RedirectURL       string            `gorm:"type:varchar(512)" json:"redirect_url,omitempty"`
	Metadata          datatypes.JSONMap `json:"metadata"`
	ResolvedAt        *time.Time        `json:"resolved_at"`
	CreatedAt         time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime;index:idx_status_updated,priority:2" json:"updated_at"`
}

func (PaymentRequest) TableName() string {
	return "payment_requests"
}

func (p *PaymentRequest) ExternalRef() string {
	if p.ExternalReference == nil {
		return ""
	}
	return *p.ExternalReference
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
