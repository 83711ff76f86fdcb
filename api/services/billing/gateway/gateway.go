package gateway

import (
	"context"

	stripe "github.com/stripe/stripe-go"
)

//go:generate mockgen -destination=mock/mock_gateway.go -package=mock github.com/tbeaudouin05/study-entitlements/api/services/billing/gateway BillingGateway

// BillingGateway abstracts the billing provider calls needed by the app layer.
// Methods return values (not pointers) to respect the project's preference
// to avoid pointer types in public interfaces.
type BillingGateway interface {
	GetSubscription(ctx context.Context, id string) (stripe.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]stripe.Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, id string) error
	Reactivate(ctx context.Context, id string) error
}
