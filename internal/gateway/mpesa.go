package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	mpesaMinAmount = 1
	mpesaMaxAmount = 150000

	// returned by the STK query endpoint while the customer has not answered
	mpesaProcessingCode = "500.001.1001"
)

type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	PassKey        string
	ShortCode      string
	CallbackURL    string
	Sandbox        bool
	BaseURL        string
}

// MpesaClient is a Daraja STK push client.
type MpesaClient struct {
	config      MpesaConfig
	httpClient  *http.Client
	baseURL     string
	accessToken string
	tokenExpiry time.Time
	mu          sync.Mutex
	now         func() time.Time
}

func NewMpesaClient(cfg MpesaConfig, httpClient *http.Client) *MpesaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.safaricom.co.ke"
		if cfg.Sandbox {
			baseURL = "https://sandbox.safaricom.co.ke"
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &MpesaClient{
		config:     cfg,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
	}
}

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type mpesaErrorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (c *MpesaClient) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	url := c.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.config.ConsumerKey + ":" + c.config.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", unavailable(fmt.Errorf("mpesa token: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("mpesa token endpoint", resp.StatusCode)
	}

	var tokenResp mpesaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	ttl := 55 * time.Minute
	if secs, err := strconv.Atoi(tokenResp.ExpiresIn); err == nil && secs > 120 {
		ttl = time.Duration(secs-60) * time.Second
	}
	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = c.now().Add(ttl)

	return c.accessToken, nil
}

func (c *MpesaClient) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.config.ShortCode + c.config.PassKey + timestamp))
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Initiate sends an STK push. The CheckoutRequestID is the external reference.
func (c *MpesaClient) Initiate(ctx context.Context, in InitiateRequest) (*InitiateResult, error) {
	phone, err := NormalizeMSISDN(in.Destination)
	if err != nil {
		return nil, err
	}
	amount := in.Amount.Ceil().IntPart()
	if amount < mpesaMinAmount || amount > mpesaMaxAmount {
		return nil, fmt.Errorf("%w: %s not within %d-%d", ErrAmountOutOfRange, in.Amount, mpesaMinAmount, mpesaMaxAmount)
	}

	timestamp := c.now().Format("20060102150405")
	desc := in.Description
	if desc == "" {
		desc = "Credit top-up"
	}
	body := stkPushRequest{
		BusinessShortCode: c.config.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.config.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.config.CallbackURL,
		AccountReference:  tail(in.Reference, 12),
		TransactionDesc:   Truncate(desc, 13),
	}

	var stkResp stkPushResponse
	status, errResp, err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", body, &stkResp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyMpesaError(status, errResp)
	}
	if stkResp.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, stkResp.ResponseDescription)
	}

	return &InitiateResult{
		ID:                stkResp.MerchantRequestID,
		ExternalReference: stkResp.CheckoutRequestID,
		Message:           stkResp.CustomerMessage,
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

func (c *MpesaClient) Query(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	timestamp := c.now().Format("20060102150405")
	body := stkQueryRequest{
		BusinessShortCode: c.config.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var queryResp stkQueryResponse
	status, errResp, err := c.post(ctx, "/mpesa/stkpushquery/v1/query", body, &queryResp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		if errResp != nil && errResp.ErrorCode == mpesaProcessingCode {
			return &QueryResult{Status: StatusPending, ResultCode: errResp.ErrorCode, Description: errResp.ErrorMessage}, nil
		}
		return nil, classifyMpesaError(status, errResp)
	}

	return &QueryResult{
		Status:      mpesaResultStatus(queryResp.ResultCode),
		ResultCode:  queryResp.ResultCode,
		Description: queryResp.ResultDesc,
	}, nil
}

// mpesaResultStatus maps a Daraja ResultCode. Anything but 0 is final:
// 1032 cancelled, 1037 unreachable, 2001 wrong PIN, 1 insufficient funds.
func mpesaResultStatus(code string) Status {
	switch code {
	case "0":
		return StatusCompleted
	case "":
		return StatusPending
	default:
		return StatusFailed
	}
}

func (c *MpesaClient) post(ctx context.Context, path string, body, out any) (int, *mpesaErrorResponse, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, unavailable(fmt.Errorf("mpesa %s: %w", path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, unavailable(fmt.Errorf("read mpesa response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp mpesaErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.ErrorCode != "" {
			return resp.StatusCode, &errResp, nil
		}
		return resp.StatusCode, nil, nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return 0, nil, fmt.Errorf("decode mpesa response: %w", err)
	}
	return resp.StatusCode, nil, nil
}

func classifyMpesaError(status int, errResp *mpesaErrorResponse) error {
	if errResp == nil {
		return statusError("mpesa", status)
	}
	msg := strings.ToLower(errResp.ErrorMessage)
	switch {
	case strings.Contains(msg, "phone"):
		return fmt.Errorf("%w: %s", ErrInvalidDestination, errResp.ErrorMessage)
	case strings.Contains(msg, "amount"):
		return fmt.Errorf("%w: %s", ErrAmountOutOfRange, errResp.ErrorMessage)
	}
	err := fmt.Errorf("mpesa %s: %s", errResp.ErrorCode, errResp.ErrorMessage)
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return unavailable(err)
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

// STKCallback is the body Daraja posts to CallBackURL.
type STKCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []CallbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

type CallbackData struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            decimal.Decimal
	MpesaReceiptNo    string
	TransactionDate   string
	PhoneNumber       string
}

func (d *CallbackData) Status() Status {
	if d.ResultCode == 0 {
		return StatusCompleted
	}
	return StatusFailed
}

func ParseCallback(callback *STKCallback) *CallbackData {
	cb := callback.Body.StkCallback
	data := &CallbackData{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}

	if cb.CallbackMetadata != nil {
		for _, item := range cb.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				if v, ok := item.Value.(float64); ok {
					data.Amount = decimal.NewFromFloat(v)
				}
			case "MpesaReceiptNumber":
				if v, ok := item.Value.(string); ok {
					data.MpesaReceiptNo = v
				}
			case "TransactionDate":
				if v, ok := item.Value.(float64); ok {
					data.TransactionDate = fmt.Sprintf("%.0f", v)
				}
			case "PhoneNumber":
				if v, ok := item.Value.(float64); ok {
					data.PhoneNumber = fmt.Sprintf("%.0f", v)
				}
			}
		}
	}

	return data
}

// tail keeps the last n bytes; order numbers differ at the end.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
