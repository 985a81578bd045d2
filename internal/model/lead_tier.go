package model

import "time"

// LeadTier is the pricing tier the lead platform registered for a lead.
// Unlock prices are taken from here, never from the unlocking agent.
type LeadTier struct {
	LeadID    string    `gorm:"type:varchar(64);primaryKey" json:"lead_id"`
	Tier      string    `gorm:"type:varchar(32);not null" json:"tier"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LeadTier) TableName() string {
	return "lead_tiers"
}
