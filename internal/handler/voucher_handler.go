package handler

import (
	"github.com/AvTe/RentConnect-sub000/internal/service"
	"github.com/AvTe/RentConnect-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

type AddVouchersRequest struct {
	Vouchers []service.VoucherSpec `json:"vouchers" binding:"required,min=1"`
}

// AddVouchers loads a batch into the pool; the batch is all or nothing.
// POST /api/v1/vouchers/pool
func (h *Handler) AddVouchers(c *gin.Context) {
	var req AddVouchersRequest
	if !bindJSON(c, &req) {
		return
	}
	vouchers, err := h.vouchers.AddToPool(c.Request.Context(), req.Vouchers)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"count": len(vouchers), "vouchers": vouchers})
}

// GET /api/v1/vouchers/pool/stats
func (h *Handler) PoolStats(c *gin.Context) {
	stats, err := h.vouchers.PoolStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

type IssueVoucherRequest struct {
	AgentID  string `json:"agentId" binding:"required"`
	PlanTier string `json:"planTier"`
}

// IssueVoucher hands a pool voucher to an agent outside the top-up flow.
// POST /api/v1/vouchers/issue
func (h *Handler) IssueVoucher(c *gin.Context) {
	var req IssueVoucherRequest
	if !bindJSON(c, &req) {
		return
	}
	voucher, err := h.vouchers.IssueFromPool(c.Request.Context(), req.AgentID, req.PlanTier)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, voucher)
}

type UpdateVoucherStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// PATCH /api/v1/vouchers/:id/status
func (h *Handler) UpdateVoucherStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateVoucherStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	voucher, err := h.vouchers.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, voucher)
}

type ViewVoucherRequest struct {
	AgentID string `json:"agentId"`
}

// POST /api/v1/vouchers/:id/view
func (h *Handler) ViewVoucher(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ViewVoucherRequest
	if !bindJSON(c, &req) {
		return
	}
	agentID, err := agentFor(c, req.AgentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	voucher, err := h.vouchers.MarkViewed(c.Request.Context(), id, agentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, voucher)
}

// GET /api/v1/vouchers?agentId=
func (h *Handler) ListVouchers(c *gin.Context) {
	agentID, err := agentFor(c, c.Query("agentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	vouchers, err := h.vouchers.ListForAgent(c.Request.Context(), agentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, vouchers)
}
