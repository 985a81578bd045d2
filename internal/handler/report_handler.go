package handler

import (
	"github.com/AvTe/RentConnect-sub000/internal/service"
	"github.com/AvTe/RentConnect-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

type SubmitReportRequest struct {
	AgentID string `json:"agentId"`
	LeadID  string `json:"leadId" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
	Details string `json:"details"`
}

// SubmitReport disputes an unlocked lead.
// POST /api/v1/bad-lead-reports
func (h *Handler) SubmitReport(c *gin.Context) {
	var req SubmitReportRequest
	if !bindJSON(c, &req) {
		return
	}
	agentID, err := agentFor(c, req.AgentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.reports.SubmitReport(c.Request.Context(), service.SubmitReportRequest{
		AgentID: agentID,
		LeadID:  req.LeadID,
		Reason:  req.Reason,
		Details: req.Details,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}

// GET /api/v1/bad-lead-reports?status=&page=&pageSize=
func (h *Handler) ListReports(c *gin.Context) {
	page, pageSize := pageParams(c)
	items, total, err := h.reports.ListReports(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, pageView{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// GET /api/v1/bad-lead-reports/:id
func (h *Handler) GetReport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	report, err := h.reports.GetReport(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

type ResolveReportRequest struct {
	AdminID string `json:"adminId"`
	Notes   string `json:"notes"`
	Reason  string `json:"reason"`
}

func adminFor(c *gin.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return c.GetString(ctxSubject)
}

// ApproveReport refunds the credits paid for the lead.
// POST /api/v1/bad-lead-reports/:id/approve
func (h *Handler) ApproveReport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ResolveReportRequest
	if !bindJSON(c, &req) {
		return
	}
	report, err := h.reports.Approve(c.Request.Context(), id, adminFor(c, req.AdminID), req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// POST /api/v1/bad-lead-reports/:id/reject
func (h *Handler) RejectReport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ResolveReportRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Reason == "" {
		response.ParamError(c, "reason is required")
		return
	}
	report, err := h.reports.Reject(c.Request.Context(), id, adminFor(c, req.AdminID), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}
