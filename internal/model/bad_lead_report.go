package model

import (
	"fmt"
	"time"
)

const (
	ReportStatusPending  = "pending"
	ReportStatusApproved = "approved"
	ReportStatusRejected = "rejected"
)

type BadLeadReport struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID         string     `gorm:"type:varchar(64);index:idx_agent_lead,priority:1;not null" json:"agent_id"`
	LeadID          string     `gorm:"type:varchar(64);index:idx_agent_lead,priority:2;not null" json:"lead_id"`
	WalletID        int64      `gorm:"not null" json:"wallet_id"`
	Reason          string     `gorm:"type:varchar(64);not null" json:"reason"`
	Details         string     `gorm:"type:text" json:"details"`
	Status          string     `gorm:"type:varchar(20);index;not null" json:"status"`
	CreditsPaid     int64      `gorm:"not null" json:"credits_paid"`
	RefundedAmount  int64      `gorm:"not null;default:0" json:"refunded_amount"`
	ResolvedBy      string     `gorm:"type:varchar(64)" json:"resolved_by"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	AdminNotes      string     `gorm:"type:text" json:"admin_notes"`
	RejectionReason string     `gorm:"type:text" json:"rejection_reason"`
	// ActiveKey is set while the report is pending or approved and cleared
	// on rejection; its unique index allows one live report per pair.
	ActiveKey *string   `gorm:"type:varchar(160);uniqueIndex" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BadLeadReport) TableName() string {
	return "bad_lead_reports"
}

func ReportActiveKey(agentID, leadID string) string {
	return fmt.Sprintf("%s:%s", agentID, leadID)
}
