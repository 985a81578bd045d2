package handler

import (
	"errors"
	"net/http"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/gateway"
	"github.com/AvTe/RentConnect-sub000/internal/logger"
	"github.com/AvTe/RentConnect-sub000/internal/model"
	"github.com/AvTe/RentConnect-sub000/internal/service"
	"github.com/AvTe/RentConnect-sub000/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type InitiatePaymentRequest struct {
	AgentID     string         `json:"agentId"`
	PhoneNumber string         `json:"phoneNumber"`
	Email       string         `json:"email"`
	Amount      int64          `json:"amount" binding:"required,gt=0"`
	Metadata    map[string]any `json:"metadata"`
}

type paymentView struct {
	OrderID           string          `json:"orderId"`
	CheckoutRequestID string          `json:"checkoutRequestId,omitempty"`
	Provider          string          `json:"provider"`
	Status            string          `json:"status"`
	Message           string          `json:"message"`
	Credits           int64           `json:"credits"`
	BonusCredits      int64           `json:"bonusCredits,omitempty"`
	ChargeAmount      decimal.Decimal `json:"chargeAmount"`
	Currency          string          `json:"currency"`
	RedirectURL       string          `json:"redirectUrl,omitempty"`
	Receipt           string          `json:"receipt,omitempty"`
}

func toPaymentView(r *service.PaymentResult) paymentView {
	p := r.Payment
	return paymentView{
		OrderID:           p.OrderNo,
		CheckoutRequestID: p.ExternalRef(),
		Provider:          p.Provider,
		Status:            p.Status,
		Message:           r.Message,
		Credits:           p.Amount,
		BonusCredits:      p.BonusCredits,
		ChargeAmount:      p.ChargeAmount,
		Currency:          p.Currency,
		RedirectURL:       p.RedirectURL,
		Receipt:           p.Receipt,
	}
}

// InitiatePayment starts a credit top-up through a provider.
// POST /api/v1/payments/:provider/initiate
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	agentID, err := agentFor(c, req.AgentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	destination := req.PhoneNumber
	if destination == "" {
		destination = req.Email
	}
	res, err := h.payments.InitiatePayment(c.Request.Context(), service.InitiatePaymentRequest{
		AgentID:     agentID,
		Provider:    c.Param("provider"),
		Amount:      req.Amount,
		Destination: destination,
		Metadata:    req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toPaymentView(res))
}

// QueryPayment is the client poll.
// GET /api/v1/payments/:provider/query?orderId=
func (h *Handler) QueryPayment(c *gin.Context) {
	orderNo := c.Query("orderId")
	if orderNo == "" {
		response.ParamError(c, "orderId is required")
		return
	}

	p, err := h.payments.GetPayment(c.Request.Context(), orderNo)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorizeAgent(c, p.AgentID); err != nil {
		response.Error(c, err)
		return
	}
	if p.Provider != c.Param("provider") {
		response.Error(c, apperr.ErrNotFound.WithMessage("Payment not found"))
		return
	}

	res, err := h.payments.PollStatus(c.Request.Context(), orderNo)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toPaymentView(res))
}

// ListPayments
// GET /api/v1/payments?agentId=&page=&pageSize=
func (h *Handler) ListPayments(c *gin.Context) {
	agentID, err := agentFor(c, c.Query("agentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	page, pageSize := pageParams(c)
	items, total, err := h.payments.ListPayments(c.Request.Context(), agentID, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, pageView{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// RequeryPayment asks the provider again, ignoring the poll budget.
// POST /api/v1/payments/requery/:orderId
func (h *Handler) RequeryPayment(c *gin.Context) {
	res, err := h.payments.Requery(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toPaymentView(res))
}

// MpesaCallback receives the Daraja STK result. The body is only a hint:
// the payment is resolved by querying Daraja. Unknown references are
// acknowledged too.
// POST /api/v1/payments/mpesa/callback
func (h *Handler) MpesaCallback(c *gin.Context) {
	var body gateway.STKCallback
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "Rejected"})
		return
	}
	data := gateway.ParseCallback(&body)
	if data.CheckoutRequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "Rejected"})
		return
	}

	_, err := h.payments.HandleCallback(c.Request.Context(), service.CallbackResult{
		Provider:          model.ProviderMpesa,
		ExternalReference: data.CheckoutRequestID,
		Status:            data.Status(),
		Receipt:           data.MpesaReceiptNo,
		Description:       data.ResultDesc,
		Amount:            data.Amount,
	})
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		logger.Warn().Str("checkout_request_id", data.CheckoutRequestID).Msg("callback for unknown payment")
	case err != nil:
		logger.Error().Err(err).Str("checkout_request_id", data.CheckoutRequestID).Msg("mpesa callback failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ResultCode": 1, "ResultDesc": "Retry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// PesapalIPN handles the instant payment notification, which carries only
// the tracking id.
// GET /api/v1/payments/pesapal/ipn
func (h *Handler) PesapalIPN(c *gin.Context) {
	trackingID := c.Query("OrderTrackingId")
	ack := gin.H{
		"orderNotificationType":  c.Query("OrderNotificationType"),
		"orderTrackingId":        trackingID,
		"orderMerchantReference": c.Query("OrderMerchantReference"),
	}
	if trackingID == "" {
		ack["status"] = http.StatusBadRequest
		c.JSON(http.StatusBadRequest, ack)
		return
	}

	_, err := h.payments.ResolveByReference(c.Request.Context(), model.ProviderPesapal, trackingID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		logger.Error().Err(err).Str("order_tracking_id", trackingID).Msg("pesapal ipn failed")
		ack["status"] = http.StatusInternalServerError
		c.JSON(http.StatusInternalServerError, ack)
		return
	}
	ack["status"] = http.StatusOK
	c.JSON(http.StatusOK, ack)
}
