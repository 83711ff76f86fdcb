package app

import (
	"context"
	"time"

	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// SubscriptionStore is implemented by db.SubscriptionStore and cache.SubscriptionCache.
type SubscriptionStore interface {
	FindByUserID(ctx context.Context, userID string) (*model.SubscriptionRecord, error)
	Save(ctx context.Context, rec *model.SubscriptionRecord) (int64, error)
	SetCancelAtPeriodEnd(ctx context.Context, userID, externalSubscriptionID string, cancel bool, at time.Time) (bool, error)
}

// PurchaseLedger is implemented by db.PurchaseLedger.
type PurchaseLedger interface {
	Upsert(ctx context.Context, p model.PurchaseEntry) error
	ListActive(ctx context.Context, userID string, now time.Time) ([]model.PurchaseEntry, error)
	ListByUser(ctx context.Context, userID string) ([]model.PurchaseEntry, error)
}

// ProfileDirectory is implemented by db.ProfileDirectory.
type ProfileDirectory interface {
	FindUserIDByCustomerRef(ctx context.Context, customerRef string) (string, bool, error)
	FindCustomerRefByUserID(ctx context.Context, userID string) (string, bool, error)
}
