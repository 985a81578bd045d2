package model

import (
	"time"
)

const (
	TransactionTypeTopup    = "topup"
	TransactionTypeUnlock   = "unlock"
	TransactionTypeRefund   = "refund"
	TransactionTypeBonus    = "bonus"
	TransactionTypeReferral = "referral"
)

const TransactionStatusCommitted = "committed"

var transactionTypes = map[string]bool{
	TransactionTypeTopup:    true,
	TransactionTypeUnlock:   true,
	TransactionTypeRefund:   true,
	TransactionTypeBonus:    true,
	TransactionTypeReferral: true,
}

func IsValidTransactionType(t string) bool {
	return transactionTypes[t]
}

// Transaction is an append-only ledger entry. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	WalletID       int64     `gorm:"index:idx_wallet_created,priority:1;not null" json:"wallet_id"`
	AgentID        string    `gorm:"type:varchar(64);index;not null" json:"agent_id"`
	Amount         int64     `gorm:"not null" json:"amount"`
	Type           string    `gorm:"type:varchar(20);not null" json:"type"`
	IdempotencyKey string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"idempotency_key"`
	Status         string    `gorm:"type:varchar(20);not null" json:"status"`
	BalanceBefore  int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter   int64     `gorm:"not null" json:"balance_after"`
	Remark         string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index:idx_wallet_created,priority:2" json:"created_at"`
}

func (Transaction) TableName() string {
	return "wallet_transactions"
}
