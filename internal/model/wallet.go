package model

import (
	"time"
)

// Wallet holds an agent's credit balance. Balance only changes through
// ledger adjustments, each bumping Version.
type Wallet struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"agent_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Version   int       `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
