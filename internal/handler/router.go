package handler

import (
	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/metrics"

	"github.com/gin-gonic/gin"
)

func SetupRouter(cfg *config.Config, h *Handler) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(metrics.Middleware())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/v1")

	// provider webhooks authenticate by reference, not by token
	api.POST("/payments/mpesa/callback", h.MpesaCallback)
	api.GET("/payments/pesapal/ipn", h.PesapalIPN)

	authed := api.Group("", AuthMiddleware(cfg.Auth))
	admin := authed.Group("", RequireAdmin())

	payments := authed.Group("/payments")
	{
		payments.GET("", h.ListPayments)
		payments.POST("/:provider/initiate", h.InitiatePayment)
		payments.GET("/:provider/query", h.QueryPayment)
	}
	admin.POST("/payments/requery/:orderId", h.RequeryPayment)

	leads := authed.Group("/leads")
	{
		leads.POST("/:leadId/unlock", h.UnlockLead)
		leads.GET("/unlocks", h.ListUnlocks)
		leads.GET("/unlock-cost", h.UnlockCost)
	}
	admin.PUT("/leads/:leadId/tier", h.SetLeadTier)

	vouchers := authed.Group("/vouchers")
	{
		vouchers.GET("", h.ListVouchers)
		vouchers.POST("/:id/view", h.ViewVoucher)
	}
	adminVouchers := admin.Group("/vouchers")
	{
		adminVouchers.POST("/pool", h.AddVouchers)
		adminVouchers.GET("/pool/stats", h.PoolStats)
		adminVouchers.POST("/issue", h.IssueVoucher)
		adminVouchers.PATCH("/:id/status", h.UpdateVoucherStatus)
	}

	authed.POST("/bad-lead-reports", h.SubmitReport)
	adminReports := admin.Group("/bad-lead-reports")
	{
		adminReports.GET("", h.ListReports)
		adminReports.GET("/:id", h.GetReport)
		adminReports.POST("/:id/approve", h.ApproveReport)
		adminReports.POST("/:id/reject", h.RejectReport)
	}

	wallets := authed.Group("/wallets")
	{
		wallets.GET("/:agentId/balance", h.GetBalance)
		wallets.GET("/:agentId/transactions", h.ListTransactions)
	}
	admin.POST("/wallets", h.CreateWallet)
	admin.POST("/wallets/:agentId/credits", h.CreditWallet)

	return r
}
