package app

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/lock"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/mq"
	"github.com/AvTe/RentConnect-sub000/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Mode: "test", WorkerID: 1},
		Auth:    config.AuthConfig{Disabled: true},
		Ledger:  config.LedgerConfig{MaxRetries: 3, RetryBaseDelay: time.Millisecond},
		Payment: config.PaymentConfig{SandboxMock: true, MaxPollAttempts: 3, Currency: "KES"},
		Pricing: config.PricingConfig{CreditPriceKES: "10", DefaultUnlockCost: 5},
		Sweep:   config.SweepConfig{Interval: time.Minute, BatchSize: 10, LeaderLockTTL: time.Minute},
	}
}

func TestBuildLocal(t *testing.T) {
	a, err := Build(localConfig(), testutil.NewDB(t))
	require.NoError(t, err)

	assert.IsType(t, &lock.LocalLocker{}, a.Locker)
	assert.IsType(t, mq.LogPublisher{}, a.Publisher)
	assert.NotNil(t, a.OutboxSender())
	assert.NotNil(t, a.SweepJob())

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := localConfig()
	cfg.Redis = config.RedisConfig{Enabled: true, Host: mr.Host(), Port: mustPort(t, mr)}

	a, err := Build(cfg, testutil.NewDB(t))
	require.NoError(t, err)
	assert.IsType(t, &lock.RedisLocker{}, a.Locker)
	assert.NoError(t, a.Close())
}

func TestBuildRejectsBadPricing(t *testing.T) {
	cfg := localConfig()
	cfg.Pricing.CreditPriceKES = "ten"
	_, err := Build(cfg, testutil.NewDB(t))
	assert.ErrorContains(t, err, "pricing")
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return port
}
