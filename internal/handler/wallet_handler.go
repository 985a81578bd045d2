package handler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/service"
	"github.com/AvTe/RentConnect-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

type CreateWalletRequest struct {
	AgentID string `json:"agentId" binding:"required"`
}

// CreateWallet registers an agent's wallet. Repeating it returns the
// existing wallet with 200 instead of 201.
// POST /api/v1/wallets
func (h *Handler) CreateWallet(c *gin.Context) {
	var req CreateWalletRequest
	if !bindJSON(c, &req) {
		return
	}
	wallet, created, err := h.ledger.CreateWallet(c.Request.Context(), req.AgentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if created {
		response.Created(c, wallet)
		return
	}
	response.Success(c, wallet)
}

// GET /api/v1/wallets/:agentId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	agentID := c.Param("agentId")
	if err := authorizeAgent(c, agentID); err != nil {
		response.Error(c, err)
		return
	}
	wallet, err := h.ledger.GetWalletByAgent(c.Request.Context(), agentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"agentId":  wallet.AgentID,
		"walletId": wallet.ID,
		"balance":  wallet.Balance,
	})
}

// ListTransactions pages the ledger newest first.
// GET /api/v1/wallets/:agentId/transactions?type=&since=&until=&cursor=&limit=
func (h *Handler) ListTransactions(c *gin.Context) {
	agentID := c.Param("agentId")
	if err := authorizeAgent(c, agentID); err != nil {
		response.Error(c, err)
		return
	}
	filter, err := transactionFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	wallet, err := h.ledger.GetWalletByAgent(c.Request.Context(), agentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	page, err := h.ledger.ListTransactionsPage(c.Request.Context(), wallet.ID, filter, c.Query("cursor"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, page)
}

func transactionFilter(c *gin.Context) (service.TransactionFilter, error) {
	var f service.TransactionFilter
	if types := c.Query("type"); types != "" {
		f.Types = strings.Split(types, ",")
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return f, apperr.Validation("limit must be a positive integer")
		}
		f.PageSize = n
	}
	for name, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, apperr.Validation("%s must be an RFC 3339 timestamp", name)
		}
		t = t.UTC()
		*dst = &t
	}
	return f, nil
}

// CreditWallet grants bonus or referral credits. A repeated idempotency key
// returns the original transaction.
// POST /api/v1/wallets/:agentId/credits
func (h *Handler) CreditWallet(c *gin.Context) {
	var req service.CreditRequest
	if !bindJSON(c, &req) {
		return
	}
	req.AgentID = c.Param("agentId")

	trans, err := h.ledger.Credit(c.Request.Context(), req)
	if errors.Is(err, apperr.ErrDuplicateTransaction) {
		response.Success(c, gin.H{"transaction": trans, "duplicate": true})
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"transaction": trans, "duplicate": false})
}
