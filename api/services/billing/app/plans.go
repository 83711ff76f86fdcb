package app

import (
	"strings"

	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// Plan identifiers accepted by the upgrade validator.
const (
	PlanMonthlyBasic = "monthly-basic"
	PlanMonthlyPlus  = "monthly-plus"
	PlanYearlyBasic  = "yearly-basic"
	PlanYearlyPlus   = "yearly-plus"
)

// Plan is a catalog entry. PriceRef binds it to the provider's price id.
type Plan struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	PriceCents int64          `json:"priceCents"`
	PlanType   model.PlanType `json:"planType"`
	IsPlus     bool           `json:"isPlus"`
	PriceRef   string         `json:"-"`
}

// PriceRefs are the provider price ids of the four plans.
type PriceRefs struct {
	MonthlyBasic string
	MonthlyPlus  string
	YearlyBasic  string
	YearlyPlus   string
}

// PlanCatalog is the fixed set of purchasable plans, in ascending order.
type PlanCatalog struct {
	plans []Plan
}

func NewPlanCatalog(refs PriceRefs) PlanCatalog {
	return PlanCatalog{plans: []Plan{
		{ID: PlanMonthlyBasic, Name: "Monthly Basic", PriceCents: 9990, PlanType: model.PlanMonthly, PriceRef: refs.MonthlyBasic},
		{ID: PlanMonthlyPlus, Name: "Monthly Plus", PriceCents: 14990, PlanType: model.PlanMonthly, IsPlus: true, PriceRef: refs.MonthlyPlus},
		{ID: PlanYearlyBasic, Name: "Yearly Basic", PriceCents: 95880, PlanType: model.PlanYearly, PriceRef: refs.YearlyBasic},
		{ID: PlanYearlyPlus, Name: "Yearly Plus", PriceCents: 107880, PlanType: model.PlanYearly, IsPlus: true, PriceRef: refs.YearlyPlus},
	}}
}

// Plans returns a copy of the catalog.
func (c PlanCatalog) Plans() []Plan {
	return append([]Plan(nil), c.plans...)
}

func (c PlanCatalog) Lookup(planID string) (Plan, bool) {
	for _, p := range c.plans {
		if p.ID == planID {
			return p, true
		}
	}
	return Plan{}, false
}

// ByPriceRef finds the plan bound to priceRef. Unbound plans never match.
func (c PlanCatalog) ByPriceRef(priceRef string) (Plan, bool) {
	if priceRef == "" {
		return Plan{}, false
	}
	for _, p := range c.plans {
		if p.PriceRef == priceRef {
			return p, true
		}
	}
	return Plan{}, false
}

// Tier is the plan type and Plus flag derived from a billed item.
// Determined is false when nothing identified the Plus flag.
type Tier struct {
	PlanType   model.PlanType
	IsPlus     bool
	Determined bool
}

// Classify resolves item against the catalog. Unknown prices fall back to the
// recurring interval for the plan type and to a "plus" marker in the price
// id, nickname or product name for the tier.
func (c PlanCatalog) Classify(item SubscriptionItem) Tier {
	if p, ok := c.ByPriceRef(item.PriceRef); ok {
		return Tier{PlanType: p.PlanType, IsPlus: p.IsPlus, Determined: true}
	}
	tier := Tier{PlanType: model.PlanMonthly}
	if strings.EqualFold(item.Interval, "year") {
		tier.PlanType = model.PlanYearly
	}
	for _, hint := range []string{item.PriceRef, item.Nickname, item.ProductName} {
		if strings.Contains(strings.ToLower(hint), "plus") {
			tier.IsPlus = true
			tier.Determined = true
			break
		}
	}
	return tier
}

// IsUpgrade reports whether moving from current to target is allowed:
// monthly to yearly, basic to Plus, or a lateral change that loses nothing.
// The same plan, yearly to monthly and Plus to basic are downgrades.
func IsUpgrade(current, target Plan) bool {
	if current.ID == target.ID {
		return false
	}
	if current.PlanType == model.PlanYearly && target.PlanType == model.PlanMonthly {
		return false
	}
	if current.IsPlus && !target.IsPlus {
		return false
	}
	return true
}
