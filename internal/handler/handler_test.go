package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/gateway"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/lock"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/service"
	"github.com/AvTe/RentConnect-sub000/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
}

type server struct {
	t      *testing.T
	engine *gin.Engine
	gw     *gateway.MockGateway
}

func newServer(t *testing.T) *server {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		Auth:   config.AuthConfig{JWTSecret: testSecret},
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{
			Payments: "p", Unlocks: "u", Vouchers: "v", Reports: "r", Wallets: "w",
		}},
		Ledger: config.LedgerConfig{MaxRetries: 3, RetryBaseDelay: time.Millisecond},
		Payment: config.PaymentConfig{
			MaxPollAttempts: 5,
			Currency:        "KES",
			Retry:           config.RetryConfig{MaxTries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		},
		Pricing: config.PricingConfig{
			CreditPriceKES:    "10",
			Packages:          []config.PackageConfig{{Credits: 50, PriceKES: "500", PlanTier: "standard"}},
			UnlockCosts:       map[string]int64{"premium": 10},
			DefaultUnlockCost: 5,
		},
	}

	db := testutil.NewDB(t)
	pricing, err := service.NewPricing(cfg.Pricing)
	require.NoError(t, err)
	gw := gateway.NewMockGateway()
	router := gateway.NewRouter().Register(model.ProviderMpesa, gw).Register(model.ProviderPesapal, gw)

	ledger := service.NewLedgerService(db, cfg)
	vouchers := service.NewVoucherService(db, cfg)
	h := NewHandler(Services{
		Ledger:   ledger,
		Payments: service.NewPaymentService(db, cfg, router, ledger, vouchers, pricing),
		Unlocks:  service.NewUnlockService(db, cfg, ledger, pricing, lock.NewLocalLocker()),
		Vouchers: vouchers,
		Reports:  service.NewReportService(db, cfg, ledger),
	})
	return &server{t: t, engine: SetupRouter(cfg, h), gw: gw}
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *server) do(method, path, bearer string, body any) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	w, env := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, _ = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestAuthRules(t *testing.T) {
	s := newServer(t)
	agent := token(t, "agent-1", RoleAgent)

	w, env := s.do(http.MethodGet, "/api/v1/wallets/agent-1/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/wallets/agent-1/balance", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/wallets/agent-2/balance", agent, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", env.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/wallets", agent, gin.H{"agentId": "agent-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWalletCreateCreditAndList(t *testing.T) {
	s := newServer(t)
	admin := token(t, "admin-1", RoleAdmin)
	agent := token(t, "agent-1", RoleAgent)

	w, _ := s.do(http.MethodPost, "/api/v1/wallets", admin, gin.H{"agentId": "agent-1"})
	assert.Equal(t, http.StatusCreated, w.Code)
	w, _ = s.do(http.MethodPost, "/api/v1/wallets", admin, gin.H{"agentId": "agent-1"})
	assert.Equal(t, http.StatusOK, w.Code)

	credit := gin.H{"amount": 20, "type": "bonus", "idempotencyKey": "promo-1"}
	w, env := s.do(http.MethodPost, "/api/v1/wallets/agent-1/credits", admin, credit)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"duplicate":false`)

	_, env = s.do(http.MethodPost, "/api/v1/wallets/agent-1/credits", admin, credit)
	assert.Contains(t, string(env.Data), `"duplicate":true`)

	w, _ = s.do(http.MethodPost, "/api/v1/wallets/agent-1/credits", admin, gin.H{"amount": 5, "type": "topup", "idempotencyKey": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, env = s.do(http.MethodGet, "/api/v1/wallets/agent-1/balance", agent, nil)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &bal))
	assert.Equal(t, int64(20), bal.Balance)

	w, env = s.do(http.MethodGet, "/api/v1/wallets/agent-1/transactions?type=bonus&limit=10", agent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page service.TransactionPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Items, 1)

	w, env = s.do(http.MethodGet, "/api/v1/wallets/agent-1/transactions?cursor=bm90LWEtY3Vyc29y", agent, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
}

func TestPaymentInitiateCallbackAndPoll(t *testing.T) {
	s := newServer(t)
	agent := token(t, "agent-1", RoleAgent)

	w, env := s.do(http.MethodPost, "/api/v1/payments/mpesa/initiate", agent, gin.H{"phoneNumber": "0712345678", "amount": 50})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var started paymentView
	require.NoError(t, json.Unmarshal(env.Data, &started))
	assert.Equal(t, model.PaymentStatusPending, started.Status)
	assert.Equal(t, "ws_CO_MOCK_1", started.CheckoutRequestID)
	s.gw.Script(started.CheckoutRequestID, gateway.MockResult{Status: gateway.StatusCompleted, Receipt: "NLJ7RT61SV"})

	callback := map[string]any{"Body": map[string]any{"stkCallback": map[string]any{
		"MerchantRequestID": "mock-req-1",
		"CheckoutRequestID": started.CheckoutRequestID,
		"ResultCode":        0,
		"ResultDesc":        "The service request is processed successfully.",
		"CallbackMetadata": map[string]any{"Item": []map[string]any{
			{"Name": "Amount", "Value": 500},
			{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
		}},
	}}}
	w, _ = s.do(http.MethodPost, "/api/v1/payments/mpesa/callback", "", callback)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ResultCode":0`)

	// a replayed callback is acknowledged and changes nothing
	w, _ = s.do(http.MethodPost, "/api/v1/payments/mpesa/callback", "", callback)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/payments/mpesa/query?orderId="+started.OrderID, agent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var polled paymentView
	require.NoError(t, json.Unmarshal(env.Data, &polled))
	assert.Equal(t, model.PaymentStatusCompleted, polled.Status)
	assert.Equal(t, "NLJ7RT61SV", polled.Receipt)
	assert.Equal(t, service.MessageCompleted, polled.Message)

	other := token(t, "agent-2", RoleAgent)
	w, _ = s.do(http.MethodGet, "/api/v1/payments/mpesa/query?orderId="+started.OrderID, other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, env = s.do(http.MethodGet, "/api/v1/wallets/agent-1/balance", agent, nil)
	assert.Contains(t, string(env.Data), `"balance":50`)
}

func TestForgedMpesaCallbackDoesNotCredit(t *testing.T) {
	s := newServer(t)
	agent := token(t, "agent-1", RoleAgent)

	w, env := s.do(http.MethodPost, "/api/v1/payments/mpesa/initiate", agent, gin.H{"phoneNumber": "0712345678", "amount": 50})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var started paymentView
	require.NoError(t, json.Unmarshal(env.Data, &started))

	callback := map[string]any{"Body": map[string]any{"stkCallback": map[string]any{
		"CheckoutRequestID": started.CheckoutRequestID,
		"ResultCode":        0,
		"ResultDesc":        "The service request is processed successfully.",
		"CallbackMetadata": map[string]any{"Item": []map[string]any{
			{"Name": "Amount", "Value": 1},
			{"Name": "MpesaReceiptNumber", "Value": "FORGED1"},
		}},
	}}}
	w, _ = s.do(http.MethodPost, "/api/v1/payments/mpesa/callback", "", callback)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.gw.QueryCount(started.CheckoutRequestID))

	_, env = s.do(http.MethodGet, "/api/v1/wallets/agent-1/balance", agent, nil)
	assert.Contains(t, string(env.Data), `"balance":0`)

	w, env = s.do(http.MethodGet, "/api/v1/payments/mpesa/query?orderId="+started.OrderID, agent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var polled paymentView
	require.NoError(t, json.Unmarshal(env.Data, &polled))
	assert.Equal(t, model.PaymentStatusPending, polled.Status)
	assert.Empty(t, polled.Receipt)
}

func TestPaymentErrorsMapToStatus(t *testing.T) {
	s := newServer(t)
	agent := token(t, "agent-1", RoleAgent)

	s.gw.FailInitiate(gateway.ErrUnavailable)
	w, env := s.do(http.MethodPost, "/api/v1/payments/mpesa/initiate", agent, gin.H{"phoneNumber": "0712345678", "amount": 50})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "GATEWAY_UNAVAILABLE", env.Code)

	w, env = s.do(http.MethodPost, "/api/v1/payments/paypal/initiate", agent, gin.H{"phoneNumber": "0712345678", "amount": 50})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/payments/mpesa/query?orderId=PAY-none", agent, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPesapalIPNAcknowledges(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(http.MethodGet, "/api/v1/payments/pesapal/ipn?OrderTrackingId=unknown&OrderNotificationType=IPNCHANGE", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":200`)

	w, _ = s.do(http.MethodGet, "/api/v1/payments/pesapal/ipn", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnlockPriceIgnoresClientTier(t *testing.T) {
	s := newServer(t)
	admin := token(t, "admin-1", RoleAdmin)
	agent := token(t, "agent-1", RoleAgent)

	w, _ := s.do(http.MethodPut, "/api/v1/leads/lead-p/tier", agent, gin.H{"tier": "premium"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, env := s.do(http.MethodPut, "/api/v1/leads/lead-p/tier", admin, gin.H{"tier": "platinum"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
	w, _ = s.do(http.MethodPut, "/api/v1/leads/lead-p/tier", admin, gin.H{"tier": "premium"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	s.do(http.MethodPost, "/api/v1/wallets/agent-1/credits", admin, gin.H{"amount": 20, "type": "bonus", "idempotencyKey": "seed"})

	w, env = s.do(http.MethodPost, "/api/v1/leads/lead-p/unlock", agent, gin.H{"leadTier": "standard"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res service.UnlockResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, int64(10), res.Unlock.CreditsCharged)

	_, env = s.do(http.MethodGet, "/api/v1/wallets/agent-1/balance", agent, nil)
	assert.Contains(t, string(env.Data), `"balance":10`)
}

func TestUnlockCostQuery(t *testing.T) {
	s := newServer(t)
	admin := token(t, "admin-1", RoleAdmin)
	agent := token(t, "agent-1", RoleAgent)

	w, env := s.do(http.MethodGet, "/api/v1/leads/unlock-cost?leadTier=premium", agent, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"tier":"premium","credits":10}`, string(env.Data))

	w, env = s.do(http.MethodGet, "/api/v1/leads/unlock-cost", agent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"credits":5`)

	w, env = s.do(http.MethodGet, "/api/v1/leads/unlock-cost?leadTier=platinum", agent, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	s.do(http.MethodPut, "/api/v1/leads/lead-p/tier", admin, gin.H{"tier": "premium"})
	w, env = s.do(http.MethodGet, "/api/v1/leads/unlock-cost?leadId=lead-p", agent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"leadId":"lead-p","tier":"premium","credits":10}`, string(env.Data))
}

func TestUnlockAndReportFlow(t *testing.T) {
	s := newServer(t)
	admin := token(t, "admin-1", RoleAdmin)
	agent := token(t, "agent-1", RoleAgent)

	w, _ := s.do(http.MethodPut, "/api/v1/leads/lead-9/tier", admin, gin.H{"tier": "premium"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env := s.do(http.MethodPost, "/api/v1/leads/lead-9/unlock", agent, gin.H{})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "INSUFFICIENT_CREDITS", env.Code)

	s.do(http.MethodPost, "/api/v1/wallets/agent-1/credits", admin, gin.H{"amount": 25, "type": "bonus", "idempotencyKey": "seed"})

	w, env = s.do(http.MethodPost, "/api/v1/leads/lead-9/unlock", agent, gin.H{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first service.UnlockResult
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.False(t, first.AlreadyUnlocked)
	assert.Equal(t, int64(10), first.Unlock.CreditsCharged)

	_, env = s.do(http.MethodPost, "/api/v1/leads/lead-9/unlock", agent, gin.H{})
	var second service.UnlockResult
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.True(t, second.AlreadyUnlocked)

	w, env = s.do(http.MethodPost, "/api/v1/bad-lead-reports", agent, gin.H{"leadId": "lead-9", "reason": "wrong number"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var report model.BadLeadReport
	require.NoError(t, json.Unmarshal(env.Data, &report))

	w, _ = s.do(http.MethodPost, "/api/v1/bad-lead-reports/1/approve", agent, gin.H{})
	assert.Equal(t, http.StatusForbidden, w.Code)

	path := "/api/v1/bad-lead-reports/" + jsonNumber(report.ID) + "/approve"
	w, _ = s.do(http.MethodPost, path, admin, gin.H{"notes": "verified"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, env = s.do(http.MethodPost, path, admin, gin.H{"notes": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_RESOLVED", env.Code)

	_, env = s.do(http.MethodGet, "/api/v1/wallets/agent-1/balance", agent, nil)
	assert.Contains(t, string(env.Data), `"balance":25`)
}

func TestVoucherRoutes(t *testing.T) {
	s := newServer(t)
	admin := token(t, "admin-1", RoleAdmin)
	agent := token(t, "agent-1", RoleAgent)

	pool := gin.H{"vouchers": []gin.H{
		{"code": "JAVA-1", "value": "500", "merchant": "Java House", "planTier": "standard"},
		{"code": "JAVA-2", "value": "500", "merchant": "Java House", "planTier": "standard"},
	}}
	w, _ := s.do(http.MethodPost, "/api/v1/vouchers/pool", admin, pool)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, env := s.do(http.MethodPost, "/api/v1/vouchers/pool", admin, pool)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(env.Details), "JAVA-1")

	w, env = s.do(http.MethodPost, "/api/v1/vouchers/issue", admin, gin.H{"agentId": "agent-1", "planTier": "standard"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var voucher model.Voucher
	require.NoError(t, json.Unmarshal(env.Data, &voucher))

	id := jsonNumber(voucher.ID)
	w, _ = s.do(http.MethodPost, "/api/v1/vouchers/"+id+"/view", token(t, "agent-2", RoleAgent), gin.H{})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(http.MethodPost, "/api/v1/vouchers/"+id+"/view", agent, gin.H{})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPatch, "/api/v1/vouchers/"+id+"/status", admin, gin.H{"status": "redeemed"})
	assert.Equal(t, http.StatusOK, w.Code)
	w, env = s.do(http.MethodPatch, "/api/v1/vouchers/"+id+"/status", admin, gin.H{"status": "cancelled"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", env.Code)

	_, env = s.do(http.MethodGet, "/api/v1/vouchers/pool/stats", admin, nil)
	assert.Contains(t, string(env.Data), `"count":1`)

	_, env = s.do(http.MethodGet, "/api/v1/vouchers", agent, nil)
	assert.Contains(t, string(env.Data), "JAVA-1")
}

func jsonNumber(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}
