package model

import "time"

type LeadUnlock struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID        string    `gorm:"type:varchar(64);uniqueIndex:uk_agent_lead,priority:1;not null" json:"agent_id"`
	LeadID         string    `gorm:"type:varchar(64);uniqueIndex:uk_agent_lead,priority:2;not null" json:"lead_id"`
	WalletID       int64     `gorm:"index;not null" json:"wallet_id"`
	CreditsCharged int64     `gorm:"not null" json:"credits_charged"`
	TransactionNo  string    `gorm:"type:varchar(64);not null" json:"transaction_no"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (LeadUnlock) TableName() string {
	return "lead_unlocks"
}
