package app

import (
	"context"
	"fmt"

	"github.com/tbeaudouin05/study-entitlements/api/services/billing/entitlement"
	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// snapshot reads the subscription and active purchases once so every
// predicate of a request is evaluated at the same instant.
func (s serviceImpl) snapshot(ctx context.Context, userID string) (entitlement.Snapshot, error) {
	now := s.now()
	rec, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return entitlement.Snapshot{}, fmt.Errorf("%w: error loading subscription: %v", ErrDatabase, err)
	}
	purchases, err := s.purchases.ListActive(ctx, userID, now)
	if err != nil {
		return entitlement.Snapshot{}, fmt.Errorf("%w: error loading purchases: %v", ErrDatabase, err)
	}
	return entitlement.NewSnapshot(rec, purchases, now), nil
}

func (s serviceImpl) GetAccessInfo(ctx context.Context, userID string) (AccessInfo, error) {
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		return AccessInfo{}, err
	}
	return AccessInfo{
		UserID:                userID,
		HasActiveSubscription: snap.HasActiveSubscription(),
		HasPlusAccess:         snap.HasPlusAccess(),
		PurchasedDivisionIDs:  snap.PurchasedDivisionIDs(),
		EvaluatedAt:           snap.Now,
	}, nil
}

func (s serviceImpl) CanAccessDivision(ctx context.Context, userID, divisionID string) (bool, error) {
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return snap.HasDivisionAccess(divisionID), nil
}

func (s serviceImpl) CanAccessBook(ctx context.Context, userID, bookID string) (bool, error) {
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return snap.HasBookAccess(bookID), nil
}

func (s serviceImpl) GetBookAccess(ctx context.Context, userID, bookID string, totalDivisions int) (BookAccess, error) {
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		return BookAccess{}, err
	}
	var divisions []string
	for _, p := range snap.Purchases {
		if p.BookID == bookID && p.ActiveAt(snap.Now) {
			divisions = append(divisions, p.DivisionID)
		}
	}
	if divisions == nil {
		divisions = []string{}
	}
	return BookAccess{
		UserID:               userID,
		BookID:               bookID,
		CanAccess:            snap.HasBookAccess(bookID),
		CoveragePercent:      snap.CoveragePercent(bookID, totalDivisions),
		PurchasedDivisionIDs: divisions,
	}, nil
}

// ListPurchases returns every purchase of the user, expired ones included.
func (s serviceImpl) ListPurchases(ctx context.Context, userID string) ([]model.PurchaseEntry, error) {
	out, err := s.purchases.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: error listing purchases: %v", ErrDatabase, err)
	}
	return out, nil
}
