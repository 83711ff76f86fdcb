package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	billingdb "github.com/tbeaudouin05/study-entitlements/api/services/billing/db"
	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// ReconcilerConfig holds the reconciler's clock and purchase window.
type ReconcilerConfig struct {
	Now func() time.Time
	// PurchaseAccessDays replaces the one-month purchase window when positive.
	PurchaseAccessDays int
}

// Reconciler turns normalized billing events into at most one write to the
// subscription store or the purchase ledger.
type Reconciler struct {
	subs      SubscriptionStore
	purchases PurchaseLedger
	profiles  ProfileDirectory
	catalog   PlanCatalog
	cfg       ReconcilerConfig
	validate  *validator.Validate
}

func NewReconciler(subs SubscriptionStore, purchases PurchaseLedger, profiles ProfileDirectory, catalog PlanCatalog, cfg ReconcilerConfig) *Reconciler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		subs:      subs,
		purchases: purchases,
		profiles:  profiles,
		catalog:   catalog,
		cfg:       cfg,
		validate:  validator.New(),
	}
}

// Apply reconciles one event. Ignored events return a result and a nil error;
// only storage failures return an error, wrapped in ErrDatabase.
func (r *Reconciler) Apply(ctx context.Context, evt BillingEvent) (ReconcileResult, error) {
	var (
		res ReconcileResult
		err error
	)
	switch {
	case evt.Type.IsSubscriptionEvent():
		res, err = r.applySubscription(ctx, evt.Subscription)
	case evt.Type == EventCheckoutCompleted:
		res, err = r.applyCheckout(ctx, evt.Checkout)
	default:
		res = ReconcileResult{Outcome: OutcomeUnhandledType}
	}
	res.EventID = evt.ID
	if err != nil {
		return res, err
	}
	if res.Outcome == OutcomeApplied {
		slog.Info("billing event applied", "event_id", evt.ID, "type", evt.Type, "user_id", res.UserID, "superseded", res.Superseded)
	} else {
		slog.Info("ignored billing event", "event_id", evt.ID, "type", evt.Type, "outcome", res.Outcome)
	}
	return res, nil
}

func (r *Reconciler) applySubscription(ctx context.Context, p *SubscriptionPayload) (ReconcileResult, error) {
	if p == nil {
		return ReconcileResult{Outcome: OutcomeMalformed}, nil
	}
	if err := r.validate.Struct(p); err != nil || !p.Status.Known() {
		slog.Warn("malformed subscription payload", "subscription_id", p.ID, "status", p.Status, "err", err)
		return ReconcileResult{Outcome: OutcomeMalformed}, nil
	}

	userID, ok, err := r.profiles.FindUserIDByCustomerRef(ctx, p.CustomerRef)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: error resolving customer: %v", ErrDatabase, err)
	}
	if !ok {
		slog.Warn("customer not mapped to profile", "customer_ref", p.CustomerRef, "subscription_id", p.ID)
		return ReconcileResult{Outcome: OutcomeUnmappedCustomer}, nil
	}

	current, err := r.subs.FindByUserID(ctx, userID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: error loading subscription: %v", ErrDatabase, err)
	}
	if current != nil && current.ExternalSubscriptionID == p.ID && model.IsRegression(current.Status, p.Status) {
		slog.Info("blocked subscription downgrade", "user_id", userID, "subscription_id", p.ID, "current", current.Status, "incoming", p.Status)
		return ReconcileResult{Outcome: OutcomeBlockedRegression, UserID: userID}, nil
	}

	rec := r.buildRecord(userID, p, current)
	superseded, err := r.subs.Save(ctx, rec)
	if errors.Is(err, billingdb.ErrStaleWrite) {
		// A higher-precedence write for the same subscription landed after our read.
		slog.Info("blocked subscription downgrade", "user_id", userID, "subscription_id", p.ID, "incoming", p.Status, "stage", "write")
		return ReconcileResult{Outcome: OutcomeBlockedRegression, UserID: userID}, nil
	}
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: error saving subscription: %v", ErrDatabase, err)
	}
	return ReconcileResult{Outcome: OutcomeApplied, UserID: userID, Superseded: superseded}, nil
}

func (r *Reconciler) buildRecord(userID string, p *SubscriptionPayload, current *model.SubscriptionRecord) *model.SubscriptionRecord {
	var item SubscriptionItem
	if len(p.Items) > 0 {
		item = p.Items[0]
	}
	tier := r.catalog.Classify(item)
	isPlus := tier.IsPlus
	if !tier.Determined && current != nil && current.IsPlus {
		isPlus = true
	}
	if p.Status == model.StatusCanceled {
		isPlus = false
	}

	now := r.cfg.Now()
	return &model.SubscriptionRecord{
		UserID:                 userID,
		Status:                 p.Status,
		PlanType:               tier.PlanType,
		IsPlus:                 isPlus,
		PriceReference:         item.PriceRef,
		ExternalSubscriptionID: p.ID,
		CurrentPeriodStart:     unixPtrToTime(p.CurrentPeriodStart),
		CurrentPeriodEnd:       unixPtrToTime(p.CurrentPeriodEnd),
		CancelAtPeriodEnd:      p.CancelAtPeriodEnd,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func (r *Reconciler) applyCheckout(ctx context.Context, c *CheckoutPayload) (ReconcileResult, error) {
	if c == nil || c.Metadata.AccessDays < 0 {
		return ReconcileResult{Outcome: OutcomeMalformed}, nil
	}
	if c.Mode == "subscription" {
		return ReconcileResult{Outcome: OutcomeNotPurchase}, nil
	}
	if err := r.validate.Struct(c.Metadata); err != nil {
		slog.Info("checkout without purchase metadata", "session_id", c.ID, "err", err)
		return ReconcileResult{Outcome: OutcomeNotPurchase}, nil
	}

	now := r.cfg.Now()
	entry := model.PurchaseEntry{
		UserID:           c.Metadata.UserID,
		BookID:           c.Metadata.BookID,
		DivisionID:       c.Metadata.DivisionID,
		ExpiresAt:        r.purchaseExpiry(now, c.Metadata.AccessDays),
		PaymentReference: c.PaymentRef,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.purchases.Upsert(ctx, entry); err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: error upserting purchase: %v", ErrDatabase, err)
	}
	return ReconcileResult{Outcome: OutcomeApplied, UserID: entry.UserID}, nil
}

func (r *Reconciler) purchaseExpiry(now time.Time, days int) time.Time {
	if days <= 0 {
		days = r.cfg.PurchaseAccessDays
	}
	if days > 0 {
		return now.AddDate(0, 0, days)
	}
	return now.AddDate(0, 1, 0)
}

func unixPtrToTime(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
