package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gw "github.com/tbeaudouin05/study-entitlements/api/services/billing/gateway"
	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// Service defines the business operations for the billing domain.
type Service interface {
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (ReconcileResult, error)
	Reconcile(ctx context.Context, evt BillingEvent) (ReconcileResult, error)

	GetAccessInfo(ctx context.Context, userID string) (AccessInfo, error)
	CanAccessDivision(ctx context.Context, userID, divisionID string) (bool, error)
	CanAccessBook(ctx context.Context, userID, bookID string) (bool, error)
	GetBookAccess(ctx context.Context, userID, bookID string, totalDivisions int) (BookAccess, error)
	ListPurchases(ctx context.Context, userID string) ([]model.PurchaseEntry, error)

	Plans() []Plan
	ValidateUpgrade(ctx context.Context, req UpgradeRequest) UpgradeValidation
	CancelSubscription(ctx context.Context, userID string) error
	ReactivateSubscription(ctx context.Context, userID string) error
	SyncSubscription(ctx context.Context, req SyncRequest) (ReconcileResult, error)
	CleanupDuplicates(ctx context.Context, req CleanupRequest) (CleanupResult, error)
}

// Dependencies wires the service. Now and PurchaseAccessDays are optional.
type Dependencies struct {
	Subscriptions      SubscriptionStore
	Purchases          PurchaseLedger
	Profiles           ProfileDirectory
	Gateway            gw.BillingGateway
	Catalog            PlanCatalog
	WebhookSecret      string
	PurchaseAccessDays int
	Now                func() time.Time
}

type serviceImpl struct {
	subs       SubscriptionStore
	purchases  PurchaseLedger
	profiles   ProfileDirectory
	gw         gw.BillingGateway
	catalog    PlanCatalog
	secret     string
	now        func() time.Time
	reconciler *Reconciler
	validator  *UpgradeValidator
}

func NewService(d Dependencies) Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return serviceImpl{
		subs:      d.Subscriptions,
		purchases: d.Purchases,
		profiles:  d.Profiles,
		gw:        d.Gateway,
		catalog:   d.Catalog,
		secret:    d.WebhookSecret,
		now:       now,
		reconciler: NewReconciler(d.Subscriptions, d.Purchases, d.Profiles, d.Catalog, ReconcilerConfig{
			Now:                now,
			PurchaseAccessDays: d.PurchaseAccessDays,
		}),
		validator: NewUpgradeValidator(d.Gateway, d.Profiles, d.Catalog, now),
	}
}

// HandleWebhook verifies and reconciles one provider delivery. A bad signature
// returns ErrSignature before anything is read; a signed but undecodable
// payload is acknowledged as malformed so the provider stops retrying it.
func (s serviceImpl) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (ReconcileResult, error) {
	evt, err := VerifyEvent(payload, sigHeader, s.secret)
	if errors.Is(err, ErrBadEvent) {
		slog.Warn("malformed webhook payload", "err", err)
		return ReconcileResult{Outcome: OutcomeMalformed}, nil
	}
	if err != nil {
		return ReconcileResult{}, err
	}
	billingEvt, err := NormalizeEvent(evt)
	if err != nil {
		slog.Warn("malformed webhook payload", "event_id", evt.ID, "type", evt.Type, "err", err)
		return ReconcileResult{EventID: evt.ID, Outcome: OutcomeMalformed}, nil
	}
	return s.reconciler.Apply(ctx, billingEvt)
}

func (s serviceImpl) Reconcile(ctx context.Context, evt BillingEvent) (ReconcileResult, error) {
	return s.reconciler.Apply(ctx, evt)
}

func (s serviceImpl) Plans() []Plan { return s.catalog.Plans() }

func (s serviceImpl) ValidateUpgrade(ctx context.Context, req UpgradeRequest) UpgradeValidation {
	return s.validator.Validate(ctx, req)
}
