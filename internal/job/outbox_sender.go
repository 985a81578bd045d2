package job

import (
	"context"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/mq"
	"github.com/AvTe/RentConnect-sub000/internal/logger"
	"github.com/AvTe/RentConnect-sub000/internal/metrics"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/repository"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// OutboxSender relays staged domain events to the publisher. Delivery is at
// least once; consumers dedupe on event_id.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	maxRetries int
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	log        zerolog.Logger
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config, publisher mq.Publisher) *OutboxSender {
	interval := cfg.Sweep.OutboxInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetries: cfg.Business.MaxRetryCount,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  100,
		log:        logger.Named("outbox_sender"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("outbox sender stopping")
			return
		case <-s.stopCh:
			s.log.Info().Msg("outbox sender stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// RunOnce sends one batch of pending messages and returns how many went out.
func (s *OutboxSender) RunOnce(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("load pending messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		metrics.RecordOutbox(msg.Topic, "sent")
		if err := s.outboxRepo.MarkSent(ctx, msg.ID); err != nil {
			// the message will be sent again on the next tick
			s.log.Error().Err(err).Int64("id", msg.ID).Msg("mark message sent")
		}
		return true
	}

	metrics.RecordOutbox(msg.Topic, "failed")
	s.log.Warn().Err(err).Int64("id", msg.ID).Str("topic", msg.Topic).Int("retry_count", msg.RetryCount).Msg("publish failed")

	parked, err := s.outboxRepo.RecordFailure(ctx, msg, s.maxRetries)
	if err != nil {
		s.log.Error().Err(err).Int64("id", msg.ID).Msg("record publish failure")
		return false
	}
	if parked {
		metrics.RecordOutbox(msg.Topic, "parked")
		s.log.Error().Int64("id", msg.ID).Str("event_type", msg.EventType).Msg("message exceeded retry budget, parked")
	}
	return false
}
