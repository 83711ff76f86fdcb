package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go"

	database "github.com/tbeaudouin05/study-entitlements/api/database"
	billingdb "github.com/tbeaudouin05/study-entitlements/api/services/billing/db"
	gw "github.com/tbeaudouin05/study-entitlements/api/services/billing/gateway"
	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

const testWebhookSecret = "whsec_test_secret"

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

var testCatalog = NewPlanCatalog(PriceRefs{
	MonthlyBasic: "price_monthly_basic",
	MonthlyPlus:  "price_monthly_plus",
	YearlyBasic:  "price_yearly_basic",
	YearlyPlus:   "price_yearly_plus",
})

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

type fakeGateway struct {
	subs        map[string]stripe.Subscription
	active      map[string][]stripe.Subscription
	canceled    []string
	reactivated []string
	err         error
	// duringUpdate runs inside the next provider update call.
	duringUpdate func()
}

func (f *fakeGateway) GetSubscription(_ context.Context, id string) (stripe.Subscription, error) {
	if f.err != nil {
		return stripe.Subscription{}, f.err
	}
	s, ok := f.subs[id]
	if !ok {
		return stripe.Subscription{}, fmt.Errorf("no such subscription: %s", id)
	}
	return s, nil
}

func (f *fakeGateway) ListActiveSubscriptions(_ context.Context, customerID string) ([]stripe.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.active[customerID], nil
}

func (f *fakeGateway) CancelAtPeriodEnd(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.runDuringUpdate()
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeGateway) Reactivate(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.runDuringUpdate()
	f.reactivated = append(f.reactivated, id)
	return nil
}

func (f *fakeGateway) runDuringUpdate() {
	if hook := f.duringUpdate; hook != nil {
		f.duringUpdate = nil
		hook()
	}
}

func liveStripeSubscription(id, customer string, status stripe.SubscriptionStatus, priceRef string, periodEnd time.Time) stripe.Subscription {
	return stripe.Subscription{
		ID:                 id,
		Status:             status,
		Customer:           &stripe.Customer{ID: customer},
		CurrentPeriodStart: periodEnd.AddDate(0, -1, 0).Unix(),
		CurrentPeriodEnd:   periodEnd.Unix(),
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
			{Plan: &stripe.Plan{ID: priceRef, Interval: stripe.PlanIntervalMonth}},
		}},
	}
}

var _ gw.BillingGateway = (*fakeGateway)(nil)

type testEnv struct {
	conn      *sqlx.DB
	subs      *billingdb.SubscriptionStore
	purchases *billingdb.PurchaseLedger
	profiles  *billingdb.ProfileDirectory
	gateway   *fakeGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := database.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testEnv{
		conn:      conn,
		subs:      billingdb.NewSubscriptionStore(conn),
		purchases: billingdb.NewPurchaseLedger(conn),
		profiles:  billingdb.NewProfileDirectory(conn),
		gateway:   &fakeGateway{},
	}
}

func (e *testEnv) link(t *testing.T, userID, customerRef string) {
	t.Helper()
	require.NoError(t, e.profiles.LinkCustomer(context.Background(), userID, customerRef))
}

func (e *testEnv) reconciler(now time.Time) *Reconciler {
	return NewReconciler(e.subs, e.purchases, e.profiles, testCatalog, ReconcilerConfig{Now: fixedClock(now)})
}

func (e *testEnv) service(now time.Time) Service {
	return NewService(Dependencies{
		Subscriptions: e.subs,
		Purchases:     e.purchases,
		Profiles:      e.profiles,
		Gateway:       e.gateway,
		Catalog:       testCatalog,
		WebhookSecret: testWebhookSecret,
		Now:           fixedClock(now),
	})
}

func (e *testEnv) record(t *testing.T, userID string) *model.SubscriptionRecord {
	t.Helper()
	rec, err := e.subs.FindByUserID(context.Background(), userID)
	require.NoError(t, err)
	return rec
}

func unix(t time.Time) *int64 {
	sec := t.Unix()
	return &sec
}

func subscriptionEvent(typ EventType, subID, customer string, status model.SubscriptionStatus, priceRef string) BillingEvent {
	return BillingEvent{
		ID:   "evt_" + subID + "_" + string(status),
		Type: typ,
		Subscription: &SubscriptionPayload{
			ID:                 subID,
			Status:             status,
			CustomerRef:        customer,
			CurrentPeriodStart: unix(testNow.AddDate(0, 0, -10)),
			CurrentPeriodEnd:   unix(testNow.AddDate(0, 0, 20)),
			Items:              []SubscriptionItem{{PriceRef: priceRef, Interval: "month"}},
		},
	}
}

func checkoutEvent(userID, bookID, divisionID string) BillingEvent {
	return BillingEvent{
		ID:   "evt_cs_" + divisionID,
		Type: EventCheckoutCompleted,
		Checkout: &CheckoutPayload{
			ID:         "cs_" + divisionID,
			Mode:       "payment",
			PaymentRef: "pi_" + divisionID,
			Metadata:   PurchaseMetadata{UserID: userID, BookID: bookID, DivisionID: divisionID},
		},
	}
}

// signHeader builds a Stripe-Signature header for payload signed now.
func signHeader(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func stripeSubscriptionJSON(subID, customer, status, planID string, periodEnd int64) map[string]any {
	return map[string]any{
		"id":                   subID,
		"object":               "subscription",
		"status":               status,
		"customer":             customer,
		"current_period_start": periodEnd - 30*24*3600,
		"current_period_end":   periodEnd,
		"cancel_at_period_end": false,
		"items": map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{
					"id":     "si_" + subID,
					"object": "subscription_item",
					"plan": map[string]any{
						"id":       planID,
						"object":   "plan",
						"interval": "month",
						"nickname": "",
						"product":  "prod_1",
					},
				},
			},
		},
	}
}

func stripeEventJSON(t *testing.T, id, typ string, object map[string]any) []byte {
	return mustJSON(t, map[string]any{
		"id":     id,
		"object": "event",
		"type":   typ,
		"data":   map[string]any{"object": object},
	})
}
