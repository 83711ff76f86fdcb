package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/webhook"

	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// VerifyEvent checks the Stripe-Signature header against payload and decodes
// the event envelope. Nothing in payload is read before the signature passes.
func VerifyEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	if sigHeader == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing signature header", ErrSignature)
	}
	evt, err := webhook.ConstructEvent(payload, sigHeader, secret)
	if err == nil {
		return evt, nil
	}
	if isSignatureError(err) {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return stripe.Event{}, fmt.Errorf("%w: error unmarshaling event: %v", ErrBadEvent, err)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// NormalizeEvent maps a Stripe event to a BillingEvent. Unhandled types come
// back with no payload and a nil error; a handled type whose object cannot be
// decoded returns ErrBadEvent.
func NormalizeEvent(evt stripe.Event) (BillingEvent, error) {
	out := BillingEvent{ID: evt.ID, Type: EventType(evt.Type)}
	if !out.Type.IsSubscriptionEvent() && out.Type != EventCheckoutCompleted {
		return out, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, fmt.Errorf("%w: event %s has no data object", ErrBadEvent, evt.ID)
	}

	if out.Type == EventCheckoutCompleted {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return out, fmt.Errorf("%w: error unmarshaling into CheckoutSession: %v", ErrBadEvent, err)
		}
		out.Checkout = normalizeCheckout(session)
		return out, nil
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
		return out, fmt.Errorf("%w: error unmarshaling into Subscription: %v", ErrBadEvent, err)
	}
	out.Subscription = normalizeSubscription(sub, evt.Data.Raw)
	return out, nil
}

// itemPeriods picks up the period bounds that newer API versions report per
// subscription item instead of on the subscription.
type itemPeriods struct {
	Items struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// normalizeSubscription maps sub to a payload. raw is the subscription object
// as delivered, if any; it fills period bounds missing at the top level.
func normalizeSubscription(sub stripe.Subscription, raw []byte) *SubscriptionPayload {
	p := &SubscriptionPayload{
		ID:                 sub.ID,
		Status:             model.SubscriptionStatus(sub.Status),
		CurrentPeriodStart: optionalUnix(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   optionalUnix(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if (p.CurrentPeriodStart == nil || p.CurrentPeriodEnd == nil) && len(raw) > 0 {
		var periods itemPeriods
		if err := json.Unmarshal(raw, &periods); err == nil {
			for _, it := range periods.Items.Data {
				if it.CurrentPeriodStart == 0 && it.CurrentPeriodEnd == 0 {
					continue
				}
				if p.CurrentPeriodStart == nil {
					p.CurrentPeriodStart = optionalUnix(it.CurrentPeriodStart)
				}
				if p.CurrentPeriodEnd == nil {
					p.CurrentPeriodEnd = optionalUnix(it.CurrentPeriodEnd)
				}
				break
			}
		}
	}
	if sub.Customer != nil {
		p.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, it := range sub.Items.Data {
			if it == nil || it.Plan == nil {
				continue
			}
			item := SubscriptionItem{
				PriceRef: it.Plan.ID,
				Interval: string(it.Plan.Interval),
				Nickname: it.Plan.Nickname,
			}
			if it.Plan.Product != nil {
				item.ProductName = it.Plan.Product.Name
			}
			p.Items = append(p.Items, item)
		}
	}
	return p
}

func normalizeCheckout(session stripe.CheckoutSession) *CheckoutPayload {
	c := &CheckoutPayload{ID: session.ID, Mode: string(session.Mode)}
	if session.PaymentIntent != nil {
		c.PaymentRef = session.PaymentIntent.ID
	}
	if c.PaymentRef == "" {
		c.PaymentRef = session.ID
	}
	md := session.Metadata
	c.Metadata = PurchaseMetadata{
		UserID:     md["userId"],
		BookID:     md["bookId"],
		DivisionID: md["divisionId"],
	}
	if days, err := strconv.Atoi(md["accessDays"]); err == nil {
		c.Metadata.AccessDays = days
	} else if md["accessDays"] != "" {
		c.Metadata.AccessDays = -1
	}
	return c
}

// optionalUnix treats Stripe's zero timestamp as absent.
func optionalUnix(sec int64) *int64 {
	if sec == 0 {
		return nil
	}
	return &sec
}
