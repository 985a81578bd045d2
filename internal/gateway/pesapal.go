package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var pesapalMaxAmount = decimal.NewFromInt(1_000_000)

type PesapalConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	NotificationID string
	CallbackURL    string
	Sandbox        bool
	BaseURL        string
}

// PesapalClient targets the Pesapal API 3.0 hosted checkout.
type PesapalClient struct {
	config      PesapalConfig
	httpClient  *http.Client
	baseURL     string
	token       string
	tokenExpiry time.Time
	mu          sync.Mutex
	now         func() time.Time
}

func NewPesapalClient(cfg PesapalConfig, httpClient *http.Client) *PesapalClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://pay.pesapal.com/v3"
		if cfg.Sandbox {
			baseURL = "https://cybqa.pesapal.com/pesapalv3"
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &PesapalClient{
		config:     cfg,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
	}
}

type pesapalError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type pesapalTokenResponse struct {
	Token      string        `json:"token"`
	ExpiryDate string        `json:"expiryDate"`
	Error      *pesapalError `json:"error"`
	Status     string        `json:"status"`
}

func (c *PesapalClient) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var resp pesapalTokenResponse
	err := c.do(ctx, http.MethodPost, "/api/Auth/RequestToken", "", map[string]string{
		"consumer_key":    c.config.ConsumerKey,
		"consumer_secret": c.config.ConsumerSecret,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != nil || resp.Token == "" {
		return "", fmt.Errorf("%w: pesapal token: %s", ErrRejected, errorMessage(resp.Error))
	}

	expiry := c.now().Add(4 * time.Minute)
	if t, err := time.Parse(time.RFC3339Nano, resp.ExpiryDate); err == nil {
		expiry = t.Add(-30 * time.Second)
	}
	c.token = resp.Token
	c.tokenExpiry = expiry
	return c.token, nil
}

type pesapalBillingAddress struct {
	PhoneNumber  string `json:"phone_number,omitempty"`
	EmailAddress string `json:"email_address,omitempty"`
}

type pesapalOrderRequest struct {
	ID             string                `json:"id"`
	Currency       string                `json:"currency"`
	Amount         float64               `json:"amount"`
	Description    string                `json:"description"`
	CallbackURL    string                `json:"callback_url"`
	NotificationID string                `json:"notification_id"`
	BillingAddress pesapalBillingAddress `json:"billing_address"`
}

type pesapalOrderResponse struct {
	OrderTrackingID   string        `json:"order_tracking_id"`
	MerchantReference string        `json:"merchant_reference"`
	RedirectURL       string        `json:"redirect_url"`
	Error             *pesapalError `json:"error"`
	Status            string        `json:"status"`
}

// Initiate registers a hosted-checkout order. The order tracking id is the
// external reference; the agent completes payment at RedirectURL.
func (c *PesapalClient) Initiate(ctx context.Context, in InitiateRequest) (*InitiateResult, error) {
	billing, err := pesapalBilling(in.Destination)
	if err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() || in.Amount.GreaterThan(pesapalMaxAmount) {
		return nil, fmt.Errorf("%w: %s", ErrAmountOutOfRange, in.Amount)
	}

	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = "KES"
	}
	desc := in.Description
	if desc == "" {
		desc = "Credit top-up"
	}

	var resp pesapalOrderResponse
	err = c.do(ctx, http.MethodPost, "/api/Transactions/SubmitOrderRequest", token, pesapalOrderRequest{
		ID:             in.Reference,
		Currency:       currency,
		Amount:         in.Amount.InexactFloat64(),
		Description:    Truncate(desc, 100),
		CallbackURL:    c.config.CallbackURL,
		NotificationID: c.config.NotificationID,
		BillingAddress: billing,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil || resp.OrderTrackingID == "" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, errorMessage(resp.Error))
	}

	return &InitiateResult{
		ID:                resp.MerchantReference,
		ExternalReference: resp.OrderTrackingID,
		RedirectURL:       resp.RedirectURL,
	}, nil
}

type pesapalStatusResponse struct {
	PaymentMethod            string        `json:"payment_method"`
	ConfirmationCode         string        `json:"confirmation_code"`
	PaymentStatusDescription string        `json:"payment_status_description"`
	Description              string        `json:"description"`
	StatusCode               int           `json:"status_code"`
	MerchantReference        string        `json:"merchant_reference"`
	Error                    *pesapalError `json:"error"`
	Status                   string        `json:"status"`
}

func (c *PesapalClient) Query(ctx context.Context, orderTrackingID string) (*QueryResult, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	var resp pesapalStatusResponse
	path := "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(orderTrackingID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil && resp.Error.Code != "" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, errorMessage(resp.Error))
	}

	// 1 COMPLETED, 2 FAILED, 3 REVERSED, 0 INVALID (not yet paid)
	status := StatusPending
	switch resp.StatusCode {
	case 1:
		status = StatusCompleted
	case 2, 3:
		status = StatusFailed
	}

	return &QueryResult{
		Status:      status,
		Receipt:     resp.ConfirmationCode,
		ResultCode:  fmt.Sprintf("%d", resp.StatusCode),
		Description: resp.PaymentStatusDescription,
	}, nil
}

func (c *PesapalClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unavailable(fmt.Errorf("pesapal %s: %w", path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("pesapal", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode pesapal response: %w", err)
	}
	return nil
}

func pesapalBilling(destination string) (pesapalBillingAddress, error) {
	destination = strings.TrimSpace(destination)
	if strings.Contains(destination, "@") {
		addr, err := mail.ParseAddress(destination)
		if err != nil {
			return pesapalBillingAddress{}, ErrInvalidDestination
		}
		return pesapalBillingAddress{EmailAddress: addr.Address}, nil
	}
	phone, err := NormalizeMSISDN(destination)
	if err != nil {
		return pesapalBillingAddress{}, err
	}
	return pesapalBillingAddress{PhoneNumber: phone}, nil
}

func errorMessage(e *pesapalError) string {
	if e == nil {
		return "empty response"
	}
	return strings.TrimSpace(e.Code + " " + e.Message)
}
