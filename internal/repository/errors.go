package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrWalletNotFound   = errors.New("wallet not found")
	ErrBalanceNotEnough = errors.New("balance not enough")
	ErrOptimisticLock   = errors.New("optimistic lock conflict")
	ErrPaymentNotFound  = errors.New("payment request not found")
	ErrVoucherNotFound  = errors.New("voucher not found")
	ErrReportNotFound   = errors.New("bad lead report not found")
	ErrStatusInvalid    = errors.New("status transition rejected")
)

// IsDuplicateKey reports whether err is a unique-constraint violation.
// Drivers without error translation are matched on their message.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

func conn(db, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}
