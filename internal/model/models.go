package model

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&Wallet{},
		&Transaction{},
		&PaymentRequest{},
		&LeadUnlock{},
		&LeadTier{},
		&Voucher{},
		&BadLeadReport{},
		&OutboxMessage{},
	}
}
