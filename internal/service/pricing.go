package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/config"

	"github.com/shopspring/decimal"
)

const PlanTierStandard = "standard"

// Quote is what a top-up of Credits costs and earns.
type Quote struct {
	Credits      int64           `json:"credits"`
	Charge       decimal.Decimal `json:"charge"`
	PlanTier     string          `json:"plan_tier"`
	BonusCredits int64           `json:"bonus_credits"`
}

type creditPackage struct {
	credits int64
	price   decimal.Decimal
	tier    string
	bonus   int64
}

type Pricing struct {
	unitPrice         decimal.Decimal
	packages          []creditPackage // ascending by credits
	unlockCosts       map[string]int64
	defaultUnlockCost int64
}

func NewPricing(cfg config.PricingConfig) (*Pricing, error) {
	unit, err := decimal.NewFromString(cfg.CreditPriceKES)
	if err != nil || !unit.IsPositive() {
		return nil, fmt.Errorf("pricing.credit_price_kes %q is not a positive amount", cfg.CreditPriceKES)
	}

	p := &Pricing{
		unitPrice:         unit,
		unlockCosts:       cfg.UnlockCosts,
		defaultUnlockCost: cfg.DefaultUnlockCost,
	}
	for _, pc := range cfg.Packages {
		price, err := decimal.NewFromString(pc.PriceKES)
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("package of %d credits has invalid price %q", pc.Credits, pc.PriceKES)
		}
		tier := pc.PlanTier
		if tier == "" {
			tier = PlanTierStandard
		}
		p.packages = append(p.packages, creditPackage{credits: pc.Credits, price: price, tier: tier, bonus: pc.BonusCredits})
	}
	sort.Slice(p.packages, func(i, j int) bool { return p.packages[i].credits < p.packages[j].credits })
	return p, nil
}

// Quote prices a top-up. An exact package match uses the package price and
// bonus; anything else is charged per credit at the tier of the largest
// package it covers.
func (p *Pricing) Quote(credits int64) (Quote, error) {
	if credits <= 0 {
		return Quote{}, apperr.Validation("amount must be a positive number of credits")
	}

	q := Quote{
		Credits:  credits,
		Charge:   p.unitPrice.Mul(decimal.NewFromInt(credits)),
		PlanTier: PlanTierStandard,
	}
	for _, pkg := range p.packages {
		if pkg.credits == credits {
			q.Charge = pkg.price
			q.PlanTier = pkg.tier
			q.BonusCredits = pkg.bonus
			return q, nil
		}
		if pkg.credits < credits {
			q.PlanTier = pkg.tier
		}
	}
	return q, nil
}

// UnlockCost returns the credit price of unlocking a lead of the given tier.
// A blank tier or standard without its own entry costs the default; any
// other tier must be configured.
func (p *Pricing) UnlockCost(leadTier string) (int64, error) {
	tier := strings.ToLower(strings.TrimSpace(leadTier))
	if cost, ok := p.unlockCosts[tier]; ok && cost > 0 {
		return cost, nil
	}
	if tier == "" || tier == PlanTierStandard {
		return p.defaultUnlockCost, nil
	}
	return 0, apperr.Validation("unknown lead tier %q", leadTier)
}
