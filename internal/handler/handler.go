// Package handler exposes the wallet services over HTTP.
package handler

import (
	"context"
	"strconv"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/service"
	"github.com/AvTe/RentConnect-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

// Services groups what the handlers depend on. Health is optional.
type Services struct {
	Ledger   *service.LedgerService
	Payments *service.PaymentService
	Unlocks  *service.UnlockService
	Vouchers *service.VoucherService
	Reports  *service.ReportService
	Health   func(ctx context.Context) error
}

type Handler struct {
	ledger   *service.LedgerService
	payments *service.PaymentService
	unlocks  *service.UnlockService
	vouchers *service.VoucherService
	reports  *service.ReportService
	health   func(ctx context.Context) error
}

func NewHandler(s Services) *Handler {
	return &Handler{
		ledger:   s.Ledger,
		payments: s.Payments,
		unlocks:  s.Unlocks,
		vouchers: s.Vouchers,
		reports:  s.Reports,
		health:   s.Health,
	}
}

// Health reports liveness and, when configured, database reachability.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			response.Error(c, apperr.ErrInternal.WithMessage("Database unreachable").WithError(err))
			return
		}
	}
	response.Success(c, gin.H{"status": "ok"})
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ParamError(c, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func pageParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	return page, pageSize
}

type pageView struct {
	Items    any   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}
