package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	VoucherStatusPool      = "pool"
	VoucherStatusIssued    = "issued"
	VoucherStatusViewed    = "viewed"
	VoucherStatusRedeemed  = "redeemed"
	VoucherStatusExpired   = "expired"
	VoucherStatusCancelled = "cancelled"
)

// PlanTierAny marks a voucher that can be issued for any purchase tier.
const PlanTierAny = "any"

var voucherTransitions = map[string][]string{
	VoucherStatusPool:   {VoucherStatusIssued, VoucherStatusExpired, VoucherStatusCancelled},
	VoucherStatusIssued: {VoucherStatusViewed, VoucherStatusRedeemed, VoucherStatusExpired, VoucherStatusCancelled},
	VoucherStatusViewed: {VoucherStatusRedeemed, VoucherStatusExpired, VoucherStatusCancelled},
}

func CanTransitionVoucher(current, target string) bool {
	return contains(voucherTransitions[current], target)
}

// VoucherSourcesFor lists the statuses a voucher may leave to reach target.
func VoucherSourcesFor(target string) []string {
	var from []string
	for _, src := range []string{VoucherStatusPool, VoucherStatusIssued, VoucherStatusViewed} {
		if CanTransitionVoucher(src, target) {
			from = append(from, src)
		}
	}
	return from
}

type Voucher struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code            string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Value           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"value"`
	Currency        string          `gorm:"type:varchar(8);not null" json:"currency"`
	Merchant        string          `gorm:"type:varchar(128);not null" json:"merchant"`
	Description     string          `gorm:"type:varchar(256)" json:"description"`
	PlanTier        string          `gorm:"type:varchar(32);index:idx_pool_claim,priority:2;not null" json:"plan_tier"`
	Status          string          `gorm:"type:varchar(20);index:idx_pool_claim,priority:1;not null" json:"status"`
	AssignedAgentID *string         `gorm:"type:varchar(64);index" json:"assigned_agent_id"`
	IssueReference  *string         `gorm:"type:varchar(128);uniqueIndex" json:"issue_reference,omitempty"`
	ExpiresAt       *time.Time      `gorm:"index" json:"expires_at"`
	IssuedAt        *time.Time      `json:"issued_at"`
	ViewedAt        *time.Time      `json:"viewed_at"`
	RedeemedAt      *time.Time      `json:"redeemed_at"`
	CancelledAt     *time.Time      `json:"cancelled_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Voucher) TableName() string {
	return "vouchers"
}

func (v *Voucher) AssignedTo(agentID string) bool {
	return v.AssignedAgentID != nil && *v.AssignedAgentID == agentID
}
