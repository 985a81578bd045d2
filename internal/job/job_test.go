package job

import (
	"context"
	"testing"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/gateway"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/lock"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/mq"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/service"
	"github.com/AvTe/RentConnect-sub000/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{
			Payments: "wallet.payments",
			Unlocks:  "wallet.unlocks",
			Vouchers: "wallet.vouchers",
			Reports:  "wallet.reports",
			Wallets:  "wallet.wallets",
		}},
		Ledger: config.LedgerConfig{MaxRetries: 3, RetryBaseDelay: time.Millisecond},
		Payment: config.PaymentConfig{
			MaxPollAttempts: 3,
			Currency:        "KES",
			Retry:           config.RetryConfig{MaxTries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		},
		Pricing: config.PricingConfig{
			CreditPriceKES:    "10",
			Packages:          []config.PackageConfig{{Credits: 50, PriceKES: "500", PlanTier: "standard"}},
			DefaultUnlockCost: 5,
		},
		Sweep: config.SweepConfig{
			Interval:       time.Minute,
			BatchSize:      10,
			StaleAfter:     5 * time.Minute,
			LeaderLockTTL:  time.Minute,
			OutboxInterval: 10 * time.Millisecond,
		},
		Business: config.BusinessConfig{MaxRetryCount: 2},
	}
}

func stage(t *testing.T, db *gorm.DB, key, payload string) *model.OutboxMessage {
	t.Helper()
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      "wallet.unlocks",
		EventType:  "lead.unlocked",
		Payload:    payload,
		Status:     model.OutboxStatusPending,
	}
	require.NoError(t, db.Create(msg).Error)
	return msg
}

func reload(t *testing.T, db *gorm.DB, id int64) model.OutboxMessage {
	t.Helper()
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg, id).Error)
	return msg
}

func TestOutboxSenderRelaysAndParks(t *testing.T) {
	db := testutil.NewDB(t)
	ok := stage(t, db, "agent-1", `{"event_id":"e1"}`)
	bad := stage(t, db, "agent-2", `{"event_id":"e2"}`)

	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, sc)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		assert.Equal(t, `{"event_id":"e1"}`, string(val))
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sender := NewOutboxSender(db, testConfig(), mq.NewKafkaProducerFrom(producer))
	ctx := context.Background()

	assert.Equal(t, 1, sender.RunOnce(ctx))
	assert.Equal(t, model.OutboxStatusSent, reload(t, db, ok.ID).Status)
	got := reload(t, db, bad.ID)
	assert.Equal(t, model.OutboxStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	assert.Equal(t, 0, sender.RunOnce(ctx))
	got = reload(t, db, bad.ID)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)

	// parked messages are not retried
	assert.Equal(t, 0, sender.RunOnce(ctx))
	require.NoError(t, producer.Close())
}

func TestOutboxSenderStartStop(t *testing.T) {
	db := testutil.NewDB(t)
	msg := stage(t, db, "agent-1", `{"event_id":"e1"}`)
	sender := NewOutboxSender(db, testConfig(), mq.LogPublisher{})

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		return reload(t, db, msg.ID).Status == model.OutboxStatusSent
	}, 2*time.Second, 10*time.Millisecond)

	sender.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not stop")
	}
}

type sweepFixture struct {
	db       *gorm.DB
	gw       *gateway.MockGateway
	payments *service.PaymentService
	vouchers *service.VoucherService
	locker   *lock.LocalLocker
	job      *ReconcileSweepJob
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := testConfig()
	pricing, err := service.NewPricing(cfg.Pricing)
	require.NoError(t, err)

	gw := gateway.NewMockGateway()
	ledger := service.NewLedgerService(db, cfg)
	vouchers := service.NewVoucherService(db, cfg)
	payments := service.NewPaymentService(db, cfg, gateway.NewRouter().Register(model.ProviderMpesa, gw), ledger, vouchers, pricing)
	locker := lock.NewLocalLocker()
	return &sweepFixture{
		db:       db,
		gw:       gw,
		payments: payments,
		vouchers: vouchers,
		locker:   locker,
		job:      NewReconcileSweepJob(cfg, payments, vouchers, locker),
	}
}

func (f *sweepFixture) timedOutPayment(t *testing.T) *model.PaymentRequest {
	t.Helper()
	res, err := f.payments.InitiatePayment(context.Background(), service.InitiatePaymentRequest{
		AgentID:     "agent-1",
		Provider:    model.ProviderMpesa,
		Amount:      50,
		Destination: "0712345678",
	})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&model.PaymentRequest{}).
		Where("id = ?", res.Payment.ID).
		Update("status", model.PaymentStatusTimedOut).Error)
	return res.Payment
}

func TestReconcileSweepResolvesAndExpires(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	p := f.timedOutPayment(t)
	f.gw.Script(p.ExternalRef(), gateway.MockResult{Status: gateway.StatusCompleted, Receipt: "QSWEEP"})

	past := time.Now().UTC().Add(-time.Hour)
	_, err := f.vouchers.AddToPool(ctx, []service.VoucherSpec{
		{Code: "OLD-1", Value: decimal.NewFromInt(100), Merchant: "Java House", ExpiresAt: &past},
	})
	require.NoError(t, err)

	result, ran, err := f.job.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, result.Payments.Completed)
	assert.Equal(t, int64(1), result.VouchersExpired)

	var got model.PaymentRequest
	require.NoError(t, f.db.First(&got, p.ID).Error)
	assert.Equal(t, model.PaymentStatusCompleted, got.Status)
	assert.Equal(t, "QSWEEP", got.Receipt)

	var wallet model.Wallet
	require.NoError(t, f.db.First(&wallet, p.WalletID).Error)
	assert.Equal(t, int64(50), wallet.Balance)
}

func TestReconcileSweepSkipsWithoutLeaderLock(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	p := f.timedOutPayment(t)
	f.gw.AutoCompleteAfter = 1

	release, ok, err := f.locker.TryAcquire(ctx, sweepLeaderKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ran, err := f.job.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 0, f.gw.QueryCount(p.ExternalRef()))

	release()
	_, ran, err = f.job.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, f.gw.QueryCount(p.ExternalRef()))
}
