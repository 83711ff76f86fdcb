package stripegw

import (
	"context"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/sub"

	gw "github.com/tbeaudouin05/study-entitlements/api/services/billing/gateway"
)

// SetKey configures the Stripe SDK key once during bootstrap.
func SetKey(key string) { stripe.Key = key }

// client is the Stripe SDK-backed implementation of the gateway.
type client struct{}

// New returns a BillingGateway backed by the official Stripe SDK.
func New() gw.BillingGateway { return client{} }

func (client) GetSubscription(ctx context.Context, id string) (stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	subPtr, err := sub.Get(id, params)
	if err != nil {
		return stripe.Subscription{}, err
	}
	if subPtr == nil {
		return stripe.Subscription{}, nil
	}
	return *subPtr, nil
}

func (client) ListActiveSubscriptions(ctx context.Context, customerID string) ([]stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: customerID,
		Status:   string(stripe.SubscriptionStatusActive),
	}
	params.Context = ctx
	var out []stripe.Subscription
	it := sub.List(params)
	for it.Next() {
		if s := it.Subscription(); s != nil {
			out = append(out, *s)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (client) CancelAtPeriodEnd(ctx context.Context, id string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	_, err := sub.Update(id, params)
	return err
}

// Reactivate clears a pending cancel-at-period-end.
func (client) Reactivate(ctx context.Context, id string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx
	_, err := sub.Update(id, params)
	return err
}
