package service

import (
	"context"
	"testing"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/gateway"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/lock"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/testutil"

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
			Retry: config.RetryConfig{
				MaxTries:        3,
				InitialInterval: time.Millisecond,
				MaxInterval:     5 * time.Millisecond,
			},
		},
		Pricing: config.PricingConfig{
			CreditPriceKES: "10",
			Packages: []config.PackageConfig{
				{Credits: 50, PriceKES: "500", PlanTier: "standard"},
				{Credits: 120, PriceKES: "1000", PlanTier: "premium", BonusCredits: 10},
			},
			UnlockCosts:       map[string]int64{"standard": 5, "premium": 10},
			DefaultUnlockCost: 5,
		},
	}
}

type fixture struct {
	db       *gorm.DB
	cfg      *config.Config
	ledger   *LedgerService
	vouchers *VoucherService
	unlocks  *UnlockService
	reports  *ReportService
	payments *PaymentService
	gw       *gateway.MockGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := testConfig()
	pricing, err := NewPricing(cfg.Pricing)
	require.NoError(t, err)

	ledger := NewLedgerService(db, cfg)
	vouchers := NewVoucherService(db, cfg)
	gw := gateway.NewMockGateway()
	router := gateway.NewRouter().
		Register(model.ProviderMpesa, gw).
		Register(model.ProviderPesapal, gw)
	return &fixture{
		db:       db,
		cfg:      cfg,
		ledger:   ledger,
		vouchers: vouchers,
		unlocks:  NewUnlockService(db, cfg, ledger, pricing, lock.NewLocalLocker()),
		reports:  NewReportService(db, cfg, ledger),
		payments: NewPaymentService(db, cfg, router, ledger, vouchers, pricing),
		gw:       gw,
	}
}

// fund creates the agent's wallet holding balance credits.
func (f *fixture) fund(t *testing.T, agentID string, balance int64) *model.Wallet {
	t.Helper()
	wallet, err := f.ledger.GetOrCreateWallet(context.Background(), agentID)
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.ledger.Adjust(context.Background(), AdjustRequest{
			WalletID:       wallet.ID,
			Amount:         balance,
			Type:           model.TransactionTypeTopup,
			IdempotencyKey: "seed:" + agentID,
		})
		require.NoError(t, err)
	}
	return wallet
}

func (f *fixture) balance(t *testing.T, walletID int64) int64 {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), walletID)
	require.NoError(t, err)
	return b
}

func (f *fixture) outboxEvents(t *testing.T, eventType string) []model.OutboxMessage {
	t.Helper()
	var msgs []model.OutboxMessage
	require.NoError(t, f.db.Where("event_type = ?", eventType).Order("id").Find(&msgs).Error)
	return msgs
}
