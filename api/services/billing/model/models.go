package model

import "time"

// SubscriptionStatus mirrors the billing provider's subscription status.
type SubscriptionStatus string

const (
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

// statusRank is the precedence used by the regression guard. It ranks
// severity, not lifecycle order.
var statusRank = map[SubscriptionStatus]int{
	StatusIncomplete:        0,
	StatusTrialing:          1,
	StatusActive:            2,
	StatusPastDue:           3,
	StatusUnpaid:            4,
	StatusCanceled:          5,
	StatusIncompleteExpired: 6,
}

// Rank returns the precedence of s. Unknown statuses rank 0.
func (s SubscriptionStatus) Rank() int {
	return statusRank[s]
}

// Known reports whether s is one of the recognized statuses.
func (s SubscriptionStatus) Known() bool {
	_, ok := statusRank[s]
	return ok
}

// IsRegression reports whether moving from current to incoming lowers precedence.
func IsRegression(current, incoming SubscriptionStatus) bool {
	return incoming.Rank() < current.Rank()
}

// PlanType is the billing interval of a subscription.
type PlanType string

const (
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// SubscriptionRecord is the single current subscription state stored per user.
type SubscriptionRecord struct {
	ID                     string
	UserID                 string
	Status                 SubscriptionStatus
	PlanType               PlanType
	IsPlus                 bool
	PriceReference         string
	ExternalSubscriptionID string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// SubscriptionHistoryEntry tracks every provider subscription seen for a user.
type SubscriptionHistoryEntry struct {
	ID                     string
	UserID                 string
	ExternalSubscriptionID string
	Status                 SubscriptionStatus
	PriceReference         string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// PurchaseEntry is a time-bounded grant of access to one content division.
type PurchaseEntry struct {
	ID               string
	UserID           string
	BookID           string
	DivisionID       string
	ExpiresAt        time.Time
	PaymentReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ActiveAt reports whether the purchase still grants access at now.
func (p PurchaseEntry) ActiveAt(now time.Time) bool {
	return p.ExpiresAt.After(now)
}
