package handler

import (
	"github.com/AvTe/RentConnect-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

type UnlockLeadRequest struct {
	AgentID string `json:"agentId"`
}

// UnlockLead charges the registered price of the lead once per agent.
// POST /api/v1/leads/:leadId/unlock
func (h *Handler) UnlockLead(c *gin.Context) {
	var req UnlockLeadRequest
	if !bindJSON(c, &req) {
		return
	}
	agentID, err := agentFor(c, req.AgentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	res, err := h.unlocks.UnlockAtListedPrice(c.Request.Context(), agentID, c.Param("leadId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GET /api/v1/leads/unlocks?agentId=
func (h *Handler) ListUnlocks(c *gin.Context) {
	agentID, err := agentFor(c, c.Query("agentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	unlocks, err := h.unlocks.ListUnlocks(c.Request.Context(), agentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, unlocks)
}

// UnlockCost quotes a tier, or a specific lead when leadId is given.
// GET /api/v1/leads/unlock-cost?leadTier=&leadId=
func (h *Handler) UnlockCost(c *gin.Context) {
	if leadID := c.Query("leadId"); leadID != "" {
		price, err := h.unlocks.PriceOf(c.Request.Context(), leadID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, price)
		return
	}

	tier := c.Query("leadTier")
	credits, err := h.unlocks.CostFor(tier)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"tier": tier, "credits": credits})
}

type SetLeadTierRequest struct {
	Tier string `json:"tier"`
}

// PUT /api/v1/leads/:leadId/tier
func (h *Handler) SetLeadTier(c *gin.Context) {
	var req SetLeadTierRequest
	if !bindJSON(c, &req) {
		return
	}
	lt, err := h.unlocks.SetLeadTier(c.Request.Context(), c.Param("leadId"), req.Tier)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, lt)
}
