// Package entitlement answers access questions from a subscription record and
// the active purchases of a user, evaluated at a single instant.
package entitlement

import (
	"math"
	"sort"
	"time"

	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// Snapshot is the state of one user at Now. Evaluate every predicate for a
// request on the same Snapshot so the answers agree with each other.
type Snapshot struct {
	Subscription *model.SubscriptionRecord
	Purchases    []model.PurchaseEntry
	Now          time.Time
}

// NewSnapshot builds a Snapshot. sub may be nil and purchases may include
// expired rows; they are ignored by the predicates.
func NewSnapshot(sub *model.SubscriptionRecord, purchases []model.PurchaseEntry, now time.Time) Snapshot {
	return Snapshot{Subscription: sub, Purchases: purchases, Now: now}
}

// HasActiveSubscription is true for an active or trialing record whose paid
// period has not ended.
func (s Snapshot) HasActiveSubscription() bool {
	sub := s.Subscription
	if sub == nil {
		return false
	}
	if sub.Status != model.StatusActive && sub.Status != model.StatusTrialing {
		return false
	}
	return sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.After(s.Now)
}

func (s Snapshot) HasPlusAccess() bool {
	return s.HasActiveSubscription() && s.Subscription.IsPlus
}

func (s Snapshot) HasDivisionAccess(divisionID string) bool {
	if s.HasActiveSubscription() {
		return true
	}
	for _, p := range s.Purchases {
		if p.DivisionID == divisionID && p.ActiveAt(s.Now) {
			return true
		}
	}
	return false
}

func (s Snapshot) HasBookAccess(bookID string) bool {
	if s.HasActiveSubscription() {
		return true
	}
	for _, p := range s.Purchases {
		if p.BookID == bookID && p.ActiveAt(s.Now) {
			return true
		}
	}
	return false
}

// PurchasedDivisionIDs returns the distinct divisions with an unexpired purchase, sorted.
func (s Snapshot) PurchasedDivisionIDs() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(s.Purchases))
	for _, p := range s.Purchases {
		if !p.ActiveAt(s.Now) {
			continue
		}
		if _, ok := seen[p.DivisionID]; ok {
			continue
		}
		seen[p.DivisionID] = struct{}{}
		out = append(out, p.DivisionID)
	}
	sort.Strings(out)
	return out
}

// CoveragePercent is 100 for a subscriber, otherwise the rounded share of the
// book's divisions covered by unexpired purchases, capped at 100. Purchases of
// other books are not counted when bookID is set.
func (s Snapshot) CoveragePercent(bookID string, totalDivisions int) int {
	if s.HasActiveSubscription() {
		return 100
	}
	if totalDivisions <= 0 {
		return 0
	}
	seen := make(map[string]struct{})
	for _, p := range s.Purchases {
		if !p.ActiveAt(s.Now) || (bookID != "" && p.BookID != bookID) {
			continue
		}
		seen[p.DivisionID] = struct{}{}
	}
	pct := int(math.Round(100 * float64(len(seen)) / float64(totalDivisions)))
	if pct > 100 {
		return 100
	}
	return pct
}
