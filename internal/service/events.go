package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentTimedOut  = "payment.timed_out"
	EventLeadUnlocked     = "lead.unlocked"
	EventVoucherIssued    = "voucher.issued"
	EventReportSubmitted  = "report.submitted"
	EventReportResolved   = "report.resolved"
	EventWalletCredited   = "wallet.credited"
)

// Event is the envelope every outbox payload is wrapped in.
type Event struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type eventWriter struct {
	outbox *repository.OutboxRepository
}

// write stages an event in the caller's transaction; the outbox sender
// publishes it after commit.
func (w eventWriter) write(ctx context.Context, tx *gorm.DB, topic, key, eventType string, data any) error {
	payload, err := json.Marshal(Event{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	return w.outbox.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}
