package app

import (
	"time"

	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// EventType is the billing provider's event type tag.
type EventType string

const (
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventCheckoutCompleted   EventType = "checkout.session.completed"
)

// IsSubscriptionEvent reports whether t carries a subscription payload.
func (t EventType) IsSubscriptionEvent() bool {
	return t == EventSubscriptionCreated || t == EventSubscriptionUpdated || t == EventSubscriptionDeleted
}

// SubscriptionItem is one billed line of a subscription.
type SubscriptionItem struct {
	PriceRef    string `validate:"required"`
	Interval    string
	Nickname    string
	ProductName string
}

// SubscriptionPayload is the provider-neutral shape of a subscription event.
// Period bounds are epoch seconds and nil when the provider omitted them.
type SubscriptionPayload struct {
	ID                 string                   `validate:"required"`
	Status             model.SubscriptionStatus `validate:"required"`
	CustomerRef        string                   `validate:"required"`
	CurrentPeriodStart *int64
	CurrentPeriodEnd   *int64
	CancelAtPeriodEnd  bool
	Items              []SubscriptionItem `validate:"dive"`
}

// PurchaseMetadata identifies what a one-off checkout bought.
type PurchaseMetadata struct {
	UserID     string `validate:"required"`
	BookID     string `validate:"required"`
	DivisionID string `validate:"required"`
	// AccessDays overrides the default one-month window when positive.
	AccessDays int `validate:"gte=0"`
}

// CheckoutPayload is the provider-neutral shape of a completed checkout.
type CheckoutPayload struct {
	ID         string
	Mode       string
	PaymentRef string
	Metadata   PurchaseMetadata
}

// BillingEvent is a normalized inbound event. Exactly one of Subscription or
// Checkout is set for handled types; both are nil otherwise.
type BillingEvent struct {
	ID           string
	Type         EventType
	Subscription *SubscriptionPayload
	Checkout     *CheckoutPayload
}

// Outcome classifies what reconciliation did with an event.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeUnmappedCustomer  Outcome = "ignored_unmapped_customer"
	OutcomeBlockedRegression Outcome = "ignored_blocked_regression"
	OutcomeUnhandledType     Outcome = "ignored_unhandled_type"
	OutcomeMalformed         Outcome = "ignored_malformed"
	OutcomeNotPurchase       Outcome = "ignored_not_purchase"
)

// ReconcileResult is returned for every accepted event.
type ReconcileResult struct {
	EventID  string  `json:"eventId,omitempty"`
	Outcome  Outcome `json:"outcome"`
	UserID   string  `json:"userId,omitempty"`
	// Superseded counts other active subscriptions of the user that were canceled.
	Superseded int64 `json:"superseded,omitempty"`
}

// AccessInfo summarizes a user's entitlements at EvaluatedAt.
type AccessInfo struct {
	UserID                string    `json:"userId"`
	HasActiveSubscription bool      `json:"hasActiveSubscription"`
	HasPlusAccess         bool      `json:"hasPlusAccess"`
	PurchasedDivisionIDs  []string  `json:"purchasedDivisionIds"`
	EvaluatedAt           time.Time `json:"evaluatedAt"`
}

// BookAccess describes a user's access to one book.
type BookAccess struct {
	UserID               string   `json:"userId"`
	BookID               string   `json:"bookId"`
	CanAccess            bool     `json:"canAccess"`
	CoveragePercent      int      `json:"coveragePercent"`
	PurchasedDivisionIDs []string `json:"purchasedDivisionIds"`
}

// UpgradeRequest is a proposed plan change checked before checkout starts.
type UpgradeRequest struct {
	UserID                string `json:"userId"`
	CurrentSubscriptionID string `json:"currentSubscriptionId"`
	TargetPlanID          string `json:"targetPlanId"`
	Authenticated         bool   `json:"isAuthenticated"`
}

// UpgradeValidation is advisory; it never reflects a state change.
type UpgradeValidation struct {
	IsValid              bool       `json:"isValid"`
	Errors               []string   `json:"errors"`
	Warnings             []string   `json:"warnings"`
	RequiresConfirmation bool       `json:"requiresConfirmation"`
	EstimatedCostCents   int64      `json:"estimatedCost"`
	NextBillingDate      *time.Time `json:"nextBillingDate,omitempty"`
	Scenario             Scenario   `json:"scenario"`
}

// CleanupRequest asks to cancel every active provider subscription except KeepSubscriptionID.
type CleanupRequest struct {
	UserID             string `json:"userId" validate:"required"`
	KeepSubscriptionID string `json:"keepSubscriptionId" validate:"required"`
	Confirmed          bool   `json:"confirmed"`
}

// CleanupResult lists the provider subscriptions set to cancel at period end.
type CleanupResult struct {
	CanceledSubscriptionIDs []string `json:"canceledSubscriptionIds"`
}

// SyncRequest names the subscription to refresh from the provider, either
// directly or through the user's current record.
type SyncRequest struct {
	UserID         string `json:"userId" validate:"required_without=SubscriptionID"`
	SubscriptionID string `json:"subscriptionId"`
}
