package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go"

	gw "github.com/tbeaudouin05/study-entitlements/api/services/billing/gateway"
	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// renewalWindow is how close to renewal an upgrade needs confirmation.
const renewalWindow = 7 * 24 * time.Hour

// UpgradeValidator classifies a proposed plan change before checkout. It only
// reads from the provider and the profile directory.
type UpgradeValidator struct {
	gw       gw.BillingGateway
	profiles ProfileDirectory
	catalog  PlanCatalog
	now      func() time.Time
}

func NewUpgradeValidator(g gw.BillingGateway, profiles ProfileDirectory, catalog PlanCatalog, now func() time.Time) *UpgradeValidator {
	if now == nil {
		now = time.Now
	}
	return &UpgradeValidator{gw: g, profiles: profiles, catalog: catalog, now: now}
}

// Validate never fails; provider and storage problems become scenarios or warnings.
func (v *UpgradeValidator) Validate(ctx context.Context, req UpgradeRequest) UpgradeValidation {
	out := UpgradeValidation{Errors: []string{}, Warnings: []string{}}
	var matched []Scenario

	block := func(id string) {
		s := mustScenario(id)
		matched = append(matched, s)
		out.Errors = append(out.Errors, s.Message)
	}
	warn := func(id string) {
		s := mustScenario(id)
		matched = append(matched, s)
		out.Warnings = append(out.Warnings, s.Message)
		out.RequiresConfirmation = true
	}

	if !req.Authenticated {
		block(ScenarioUnauthorized)
		out.Scenario = primaryScenario(matched)
		return out
	}

	now := v.now()
	target, targetKnown := v.catalog.Lookup(req.TargetPlanID)

	if req.CurrentSubscriptionID == "" {
		matched = append(matched, mustScenario(ScenarioFirstSubscription))
	} else {
		live, err := v.gw.GetSubscription(ctx, req.CurrentSubscriptionID)
		switch {
		case errors.Is(err, gw.ErrUnavailable):
			block(ScenarioProviderDown)
		case err != nil:
			slog.Warn("upgrade validation could not fetch subscription", "subscription_id", req.CurrentSubscriptionID, "err", err)
			block(ScenarioNonExistentSubscription)
		default:
			v.classifyLive(live, now, block, warn, &matched)
			if targetKnown && isLive(live.Status) {
				if current, ok := v.currentPlan(live); ok && !IsUpgrade(current, target) {
					block(ScenarioDowngrade)
				}
			}
		}
	}

	if !targetKnown {
		block(ScenarioInvalidPlan)
	} else {
		out.EstimatedCostCents = target.PriceCents
		next := now.AddDate(0, 0, 30)
		if target.PlanType == model.PlanYearly {
			next = now.AddDate(0, 0, 365)
		}
		out.NextBillingDate = &next
	}

	if v.hasDuplicateSubscriptions(ctx, req.UserID) {
		warn(ScenarioDuplicateSubscriptions)
	}

	out.IsValid = len(out.Errors) == 0
	out.Scenario = primaryScenario(matched)
	return out
}

func (v *UpgradeValidator) classifyLive(live stripe.Subscription, now time.Time, block, warn func(string), matched *[]Scenario) {
	switch string(live.Status) {
	case "paused":
		block(ScenarioPausedUpgrade)
	case string(model.StatusPastDue), string(model.StatusUnpaid):
		block(ScenarioFailedPaymentUpgrade)
	case string(model.StatusIncomplete), string(model.StatusIncompleteExpired):
		block(ScenarioIncompleteUpgrade)
	case string(model.StatusTrialing):
		warn(ScenarioTrialUpgrade)
	case string(model.StatusActive):
		end := time.Unix(live.CurrentPeriodEnd, 0)
		if live.CurrentPeriodEnd > 0 && end.Sub(now) < renewalWindow {
			warn(ScenarioLastDayUpgrade)
		} else {
			*matched = append(*matched, mustScenario(ScenarioMidPeriodUpgrade))
		}
	case string(model.StatusCanceled):
		*matched = append(*matched, mustScenario(ScenarioCanceledRenewal))
	default:
		block(ScenarioNonExistentSubscription)
	}
}

func (v *UpgradeValidator) currentPlan(live stripe.Subscription) (Plan, bool) {
	if live.Items == nil {
		return Plan{}, false
	}
	for _, it := range live.Items.Data {
		if it == nil || it.Plan == nil {
			continue
		}
		if p, ok := v.catalog.ByPriceRef(it.Plan.ID); ok {
			return p, true
		}
	}
	return Plan{}, false
}

func (v *UpgradeValidator) hasDuplicateSubscriptions(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	customerRef, ok, err := v.profiles.FindCustomerRefByUserID(ctx, userID)
	if err != nil {
		slog.Warn("duplicate check skipped", "user_id", userID, "err", err)
		return false
	}
	if !ok {
		return false
	}
	subs, err := v.gw.ListActiveSubscriptions(ctx, customerRef)
	if err != nil {
		slog.Warn("duplicate check skipped", "user_id", userID, "err", err)
		return false
	}
	return len(subs) > 1
}

func isLive(status stripe.SubscriptionStatus) bool {
	return string(status) == string(model.StatusActive) || string(status) == string(model.StatusTrialing)
}
