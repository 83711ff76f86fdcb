package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// CancelSubscription asks the provider to cancel the user's subscription at
// the end of the paid period and records the flag locally. Status changes
// arrive later through the webhook.
func (s serviceImpl) CancelSubscription(ctx context.Context, userID string) error {
	rec, err := s.liveRecord(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.gw.CancelAtPeriodEnd(ctx, rec.ExternalSubscriptionID); err != nil {
		return fmt.Errorf("%w: error canceling subscription: %v", ErrGateway, err)
	}
	return s.recordCancelFlag(ctx, rec, true)
}

// ReactivateSubscription withdraws a pending cancel-at-period-end.
func (s serviceImpl) ReactivateSubscription(ctx context.Context, userID string) error {
	rec, err := s.liveRecord(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.gw.Reactivate(ctx, rec.ExternalSubscriptionID); err != nil {
		return fmt.Errorf("%w: error reactivating subscription: %v", ErrGateway, err)
	}
	return s.recordCancelFlag(ctx, rec, false)
}

func (s serviceImpl) liveRecord(ctx context.Context, userID string) (*model.SubscriptionRecord, error) {
	rec, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: error loading subscription: %v", ErrDatabase, err)
	}
	if rec == nil || (rec.Status != model.StatusActive && rec.Status != model.StatusTrialing) {
		return nil, fmt.Errorf("%w: user %s has no active subscription", ErrNoSubscription, userID)
	}
	return rec, nil
}

// recordCancelFlag touches only the cancel flag, and only while rec's
// subscription is still the user's current one. Once the provider call has
// succeeded a replaced row is not an error: the webhook carries the flag.
func (s serviceImpl) recordCancelFlag(ctx context.Context, rec *model.SubscriptionRecord, cancel bool) error {
	ok, err := s.subs.SetCancelAtPeriodEnd(ctx, rec.UserID, rec.ExternalSubscriptionID, cancel, s.now())
	if err != nil {
		return fmt.Errorf("%w: error saving cancel flag: %v", ErrDatabase, err)
	}
	if !ok {
		slog.Info("subscription replaced before cancel flag was recorded", "user_id", rec.UserID, "subscription_id", rec.ExternalSubscriptionID)
		return nil
	}
	slog.Info("subscription cancel flag updated", "user_id", rec.UserID, "subscription_id", rec.ExternalSubscriptionID, "cancel_at_period_end", cancel)
	return nil
}

// SyncSubscription fetches the subscription from the provider and reconciles
// it like a subscription.updated event, so it goes through the same mapping
// and regression guard as webhooks.
func (s serviceImpl) SyncSubscription(ctx context.Context, req SyncRequest) (ReconcileResult, error) {
	if err := validator.New().Struct(req); err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	subID := req.SubscriptionID
	if subID == "" {
		rec, err := s.subs.FindByUserID(ctx, req.UserID)
		if err != nil {
			return ReconcileResult{}, fmt.Errorf("%w: error loading subscription: %v", ErrDatabase, err)
		}
		if rec == nil {
			return ReconcileResult{}, fmt.Errorf("%w: user %s has no subscription", ErrNoSubscription, req.UserID)
		}
		subID = rec.ExternalSubscriptionID
	}
	live, err := s.gw.GetSubscription(ctx, subID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: error fetching subscription %s: %v", ErrGateway, subID, err)
	}
	if live.ID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: subscription %s not found", ErrNoSubscription, subID)
	}
	return s.reconciler.Apply(ctx, BillingEvent{
		ID:           "sync_" + live.ID,
		Type:         EventSubscriptionUpdated,
		Subscription: normalizeSubscription(live, nil),
	})
}

// CleanupDuplicates cancels, at period end, every active provider
// subscription of the user's customer except req.KeepSubscriptionID. It only
// runs with explicit confirmation.
func (s serviceImpl) CleanupDuplicates(ctx context.Context, req CleanupRequest) (CleanupResult, error) {
	if err := validator.New().Struct(req); err != nil {
		return CleanupResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !req.Confirmed {
		return CleanupResult{}, ErrConfirmationRequired
	}
	customerRef, ok, err := s.profiles.FindCustomerRefByUserID(ctx, req.UserID)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("%w: error resolving customer: %v", ErrDatabase, err)
	}
	if !ok {
		return CleanupResult{}, fmt.Errorf("%w: user %s has no billing customer", ErrNoSubscription, req.UserID)
	}
	active, err := s.gw.ListActiveSubscriptions(ctx, customerRef)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("%w: error listing subscriptions: %v", ErrGateway, err)
	}

	found := false
	for _, sub := range active {
		if sub.ID == req.KeepSubscriptionID {
			found = true
			break
		}
	}
	if !found {
		return CleanupResult{}, fmt.Errorf("%w: subscription %s is not active for user %s", ErrNoSubscription, req.KeepSubscriptionID, req.UserID)
	}

	res := CleanupResult{CanceledSubscriptionIDs: []string{}}
	for _, sub := range active {
		if sub.ID == req.KeepSubscriptionID {
			continue
		}
		if err := s.gw.CancelAtPeriodEnd(ctx, sub.ID); err != nil {
			return res, fmt.Errorf("%w: error canceling duplicate %s: %v", ErrGateway, sub.ID, err)
		}
		res.CanceledSubscriptionIDs = append(res.CanceledSubscriptionIDs, sub.ID)
	}
	slog.Info("duplicate subscriptions cleaned up", "user_id", req.UserID, "kept", req.KeepSubscriptionID, "canceled", len(res.CanceledSubscriptionIDs))
	return res, nil
}
