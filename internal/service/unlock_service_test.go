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

func TestUnlockLeadScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fund(t, "agent-1", 10)

	first, err := f.unlocks.UnlockLead(ctx, "agent-1", "lead-1", 5)
	require.NoError(t, err)
	assert.False(t, first.AlreadyUnlocked)
	assert.Equal(t, int64(5), first.Unlock.CreditsCharged)
	assert.Equal(t, int64(5), f.balance(t, wallet.ID))

	second, err := f.unlocks.UnlockLead(ctx, "agent-1", "lead-1", 5)
	require.NoError(t, err)
	assert.True(t, second.AlreadyUnlocked)
	assert.Equal(t, first.Unlock.ID, second.Unlock.ID)
	assert.Equal(t, int64(5), f.balance(t, wallet.ID))

	events := f.outboxEvents(t, EventLeadUnlocked)
	require.Len(t, events, 1)
	assert.Equal(t, "wallet.unlocks", events[0].Topic)
	assert.Equal(t, "agent-1", events[0].MessageKey)
}

func TestUnlockLeadInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fund(t, "agent-1", 3)

	_, err := f.unlocks.UnlockLead(ctx, "agent-1", "lead-1", 5)
	require.ErrorIs(t, err, apperr.ErrInsufficientCredits)
	assert.Equal(t, "Insufficient credits, top up to continue", apperr.From(err).Message)
	assert.Equal(t, int64(3), f.balance(t, wallet.ID))

	unlocks, err := f.unlocks.ListUnlocks(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, unlocks)

	_, err = f.unlocks.UnlockLead(ctx, "no-wallet", "lead-1", 5)
	assert.ErrorIs(t, err, apperr.ErrInsufficientCredits)
}

func TestUnlockLeadConcurrentDebitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fund(t, "agent-1", 50)

	var wg sync.WaitGroup
	results := make([]*UnlockResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.unlocks.UnlockLead(ctx, "agent-1", "lead-1", 5)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		require.NotNil(t, r)
		if !r.AlreadyUnlocked {
			fresh++
		}
		assert.Equal(t, results[0].Unlock.ID, r.Unlock.ID)
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, int64(45), f.balance(t, wallet.ID))

	var debits int64
	require.NoError(t, f.db.Model(&model.Transaction{}).Where("type = ?", model.TransactionTypeUnlock).Count(&debits).Error)
	assert.Equal(t, int64(1), debits)
}

func TestUnlockLeadDebitWithoutRecordIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fund(t, "agent-1", 10)

	// an orphaned debit must never be charged again
	_, err := f.unlocks.UnlockLead(ctx, "agent-1", "lead-1", 4)
	require.NoError(t, err)
	require.NoError(t, f.db.Where("agent_id = ? AND lead_id = ?", "agent-1", "lead-1").Delete(&model.LeadUnlock{}).Error)

	_, err = f.unlocks.UnlockLead(ctx, "agent-1", "lead-1", 4)
	assert.ErrorIs(t, err, apperr.ErrConflict, "debit exists without an unlock row")
	assert.Equal(t, int64(6), f.balance(t, wallet.ID))
}

func TestUnlockValidationAndCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.unlocks.UnlockLead(ctx, "", "lead-1", 5)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.unlocks.UnlockLead(ctx, "agent-1", "lead-1", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	cost, err := f.unlocks.CostFor("PREMIUM")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cost)
	_, err = f.unlocks.CostFor("unknown")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUnlockAtListedPriceUsesRegisteredTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.fund(t, "agent-1", 30)

	lt, err := f.unlocks.SetLeadTier(ctx, "lead-p", "Premium")
	require.NoError(t, err)
	assert.Equal(t, "premium", lt.Tier)

	res, err := f.unlocks.UnlockAtListedPrice(ctx, "agent-1", "lead-p")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Unlock.CreditsCharged)
	assert.Equal(t, int64(20), f.balance(t, wallet.ID))

	// unregistered leads are standard
	res, err = f.unlocks.UnlockAtListedPrice(ctx, "agent-1", "lead-s")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Unlock.CreditsCharged)
	assert.Equal(t, int64(15), f.balance(t, wallet.ID))
}

func TestSetLeadTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.unlocks.SetLeadTier(ctx, "lead-1", "platinum")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.unlocks.SetLeadTier(ctx, "", "premium")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.unlocks.SetLeadTier(ctx, "lead-1", "premium")
	require.NoError(t, err)
	_, err = f.unlocks.SetLeadTier(ctx, "lead-1", "standard")
	require.NoError(t, err)

	price, err := f.unlocks.PriceOf(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, LeadPrice{LeadID: "lead-1", Tier: "standard", Credits: 5}, *price)
}
