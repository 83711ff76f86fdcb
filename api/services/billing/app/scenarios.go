package app

// RiskLevel grades how likely a transition is to go wrong.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// Scenario is one named case of the upgrade/renewal catalog.
type Scenario struct {
	ID                      string    `json:"id"`
	Description             string    `json:"description"`
	IsAllowed               bool      `json:"isAllowed"`
	RequiresSpecialHandling bool      `json:"requiresSpecialHandling"`
	RiskLevel               RiskLevel `json:"riskLevel"`
	Message                 string    `json:"message,omitempty"`
}

// Scenario ids.
const (
	ScenarioFirstSubscription       = "no-subscription-to-first"
	ScenarioUnauthorized            = "unauthorized-user"
	ScenarioPausedUpgrade           = "paused-to-upgrade"
	ScenarioFailedPaymentUpgrade    = "failed-to-upgrade"
	ScenarioIncompleteUpgrade       = "incomplete-to-upgrade"
	ScenarioTrialUpgrade            = "trial-to-upgrade"
	ScenarioLastDayUpgrade          = "last-day-upgrade"
	ScenarioMidPeriodUpgrade        = "mid-period-upgrade"
	ScenarioCanceledRenewal         = "canceled-to-renewal"
	ScenarioNonExistentSubscription = "non-existent-subscription"
	ScenarioProviderDown            = "stripe-api-down"
	ScenarioInvalidPlan             = "invalid-plan"
	ScenarioDowngrade               = "downgrade-attempt"
	ScenarioDuplicateSubscriptions  = "duplicate-subscriptions"
)

var scenarioCatalog = map[string]Scenario{
	ScenarioFirstSubscription: {
		ID: ScenarioFirstSubscription, Description: "User without a subscription buys a first plan",
		IsAllowed: true, RiskLevel: RiskLow,
	},
	ScenarioUnauthorized: {
		ID: ScenarioUnauthorized, Description: "Unauthenticated user tries to change plans",
		RiskLevel: RiskCritical, Message: "You must be signed in to change your subscription",
	},
	ScenarioPausedUpgrade: {
		ID: ScenarioPausedUpgrade, Description: "Paused subscription tries to upgrade",
		RequiresSpecialHandling: true, RiskLevel: RiskMedium,
		Message: "Your subscription is paused. Please reactivate it before upgrading",
	},
	ScenarioFailedPaymentUpgrade: {
		ID: ScenarioFailedPaymentUpgrade, Description: "Subscription with a failed payment tries to upgrade",
		RequiresSpecialHandling: true, RiskLevel: RiskHigh,
		Message: "Your subscription has a failed payment. Please update your payment method first",
	},
	ScenarioIncompleteUpgrade: {
		ID: ScenarioIncompleteUpgrade, Description: "Incomplete subscription tries to upgrade",
		RequiresSpecialHandling: true, RiskLevel: RiskMedium,
		Message: "Your subscription setup is incomplete. Please complete the payment first",
	},
	ScenarioTrialUpgrade: {
		ID: ScenarioTrialUpgrade, Description: "Trialing subscription upgrades before the trial ends",
		IsAllowed: true, RequiresSpecialHandling: true, RiskLevel: RiskMedium,
		Message: "Upgrading during your trial will end the trial and start billing immediately",
	},
	ScenarioLastDayUpgrade: {
		ID: ScenarioLastDayUpgrade, Description: "Active subscription upgrades within days of renewal",
		IsAllowed: true, RequiresSpecialHandling: true, RiskLevel: RiskMedium,
		Message: "Your subscription renews in less than 7 days. The upgrade will be prorated",
	},
	ScenarioMidPeriodUpgrade: {
		ID: ScenarioMidPeriodUpgrade, Description: "Active subscription upgrades mid period",
		IsAllowed: true, RiskLevel: RiskLow,
	},
	ScenarioCanceledRenewal: {
		ID: ScenarioCanceledRenewal, Description: "Canceled subscription is renewed with a new checkout",
		IsAllowed: true, RiskLevel: RiskLow,
	},
	ScenarioNonExistentSubscription: {
		ID: ScenarioNonExistentSubscription, Description: "Referenced subscription does not exist at the provider",
		RiskLevel: RiskHigh, Message: "Current subscription could not be found",
	},
	ScenarioProviderDown: {
		ID: ScenarioProviderDown, Description: "Billing provider is unreachable",
		RequiresSpecialHandling: true, RiskLevel: RiskCritical,
		Message: "Billing is temporarily unavailable. Please try again later",
	},
	ScenarioInvalidPlan: {
		ID: ScenarioInvalidPlan, Description: "Target plan is not in the catalog",
		RiskLevel: RiskHigh, Message: "Invalid plan selected",
	},
	ScenarioDowngrade: {
		ID: ScenarioDowngrade, Description: "Active subscriber selects a lower or equal plan",
		RiskLevel: RiskMedium, Message: "Only upgrades are allowed. Manage downgrades from the billing portal",
	},
	ScenarioDuplicateSubscriptions: {
		ID: ScenarioDuplicateSubscriptions, Description: "Customer holds more than one active subscription",
		IsAllowed: true, RequiresSpecialHandling: true, RiskLevel: RiskHigh,
		Message: "Multiple active subscriptions found. Extra subscriptions will be canceled after you confirm",
	},
}

// LookupScenario returns the catalog entry for id.
func LookupScenario(id string) (Scenario, bool) {
	s, ok := scenarioCatalog[id]
	return s, ok
}

func mustScenario(id string) Scenario {
	s, ok := scenarioCatalog[id]
	if !ok {
		panic("unknown scenario " + id)
	}
	return s
}

// primaryScenario picks the scenario to report: a blocking scenario beats an
// allowed one, then the higher risk wins, then the earlier match.
func primaryScenario(matched []Scenario) Scenario {
	if len(matched) == 0 {
		return mustScenario(ScenarioFirstSubscription)
	}
	best := matched[0]
	for _, s := range matched[1:] {
		if best.IsAllowed && !s.IsAllowed {
			best = s
			continue
		}
		if best.IsAllowed == s.IsAllowed && riskOrder[s.RiskLevel] > riskOrder[best.RiskLevel] {
			best = s
		}
	}
	return best
}
