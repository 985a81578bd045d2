package service

import (
	"context"
	"sync"
	"testing"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unlocked funds an agent and unlocks one lead at cost 5.
func unlocked(t *testing.T, f *fixture, agentID, leadID string, balance int64) *model.Wallet {
	t.Helper()
	wallet := f.fund(t, agentID, balance)
	_, err := f.unlocks.UnlockLead(context.Background(), agentID, leadID, 5)
	require.NoError(t, err)
	return wallet
}

func TestApproveRefundsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := unlocked(t, f, "agent-1", "lead-1", 10)
	require.Equal(t, int64(5), f.balance(t, wallet.ID))

	report, err := f.reports.SubmitReport(ctx, SubmitReportRequest{AgentID: "agent-1", LeadID: "lead-1", Reason: "unreachable", Details: "number off"})
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusPending, report.Status)
	assert.Equal(t, int64(5), report.CreditsPaid)

	approved, err := f.reports.Approve(ctx, report.ID, "admin-1", "confirmed")
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusApproved, approved.Status)
	assert.Equal(t, int64(5), approved.RefundedAmount)
	assert.Equal(t, "admin-1", approved.ResolvedBy)
	assert.Equal(t, "confirmed", approved.AdminNotes)
	assert.NotNil(t, approved.ResolvedAt)
	assert.Equal(t, int64(10), f.balance(t, wallet.ID))

	_, err = f.reports.Approve(ctx, report.ID, "admin-2", "again")
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
	assert.Equal(t, int64(10), f.balance(t, wallet.ID))

	_, err = f.reports.Reject(ctx, report.ID, "admin-2", "changed mind")
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)

	assert.Len(t, f.outboxEvents(t, EventReportSubmitted), 1)
	assert.Len(t, f.outboxEvents(t, EventReportResolved), 1)
}

func TestConcurrentApprovalsRefundOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := unlocked(t, f, "agent-1", "lead-1", 5)
	report, err := f.reports.SubmitReport(ctx, SubmitReportRequest{AgentID: "agent-1", LeadID: "lead-1", Reason: "fake"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, resolved := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reports.Approve(ctx, report.ID, "admin", "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
			resolved++
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, resolved)
	assert.Equal(t, int64(5), f.balance(t, wallet.ID))
}

func TestSubmitReportRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unlocked(t, f, "agent-1", "lead-1", 10)

	_, err := f.reports.SubmitReport(ctx, SubmitReportRequest{AgentID: "agent-1", LeadID: "lead-2", Reason: "x"})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "lead was not unlocked", apperr.From(err).Message)

	_, err = f.reports.SubmitReport(ctx, SubmitReportRequest{AgentID: "agent-1", LeadID: "lead-1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	first, err := f.reports.SubmitReport(ctx, SubmitReportRequest{AgentID: "agent-1", LeadID: "lead-1", Reason: "x"})
	require.NoError(t, err)

	_, err = f.reports.SubmitReport(ctx, SubmitReportRequest{AgentID: "agent-1", LeadID: "lead-1", Reason: "y"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateReport)

	rejected, err := f.reports.Reject(ctx, first.ID, "admin-1", "lead is valid")
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusRejected, rejected.Status)
	assert.Equal(t, "lead is valid", rejected.RejectionReason)

	// a rejected report frees the pair
	second, err := f.reports.SubmitReport(ctx, SubmitReportRequest{AgentID: "agent-1", LeadID: "lead-1", Reason: "still bad"})
	require.NoError(t, err)
	_, err = f.reports.Approve(ctx, second.ID, "admin-1", "")
	require.NoError(t, err)

	// an approved report blocks further reports
	_, err = f.reports.SubmitReport(ctx, SubmitReportRequest{AgentID: "agent-1", LeadID: "lead-1", Reason: "again"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateReport)
}

func TestReportNotFoundAndListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reports.Approve(ctx, 77, "admin", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.reports.Reject(ctx, 77, "admin", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	unlocked(t, f, "agent-1", "lead-1", 20)
	_, err = f.unlocks.UnlockLead(ctx, "agent-1", "lead-2", 5)
	require.NoError(t, err)
	r1, err := f.reports.SubmitReport(ctx, SubmitReportRequest{AgentID: "agent-1", LeadID: "lead-1", Reason: "x"})
	require.NoError(t, err)
	_, err = f.reports.SubmitReport(ctx, SubmitReportRequest{AgentID: "agent-1", LeadID: "lead-2", Reason: "y"})
	require.NoError(t, err)
	_, err = f.reports.Reject(ctx, r1.ID, "admin", "no")
	require.NoError(t, err)

	pending, total, err := f.reports.ListReports(ctx, model.ReportStatusPending, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, pending, 1)
	assert.Equal(t, "lead-2", pending[0].LeadID)

	_, total, err = f.reports.ListReports(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_, _, err = f.reports.ListReports(ctx, "open", 1, 10)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
