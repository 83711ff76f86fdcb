package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go"

	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

func TestHandleWebhook_AppliesSignedEvent(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "user-1", "cus_1")
	svc := env.service(testNow)
	payload := stripeEventJSON(t, "evt_1", "customer.subscription.created",
		stripeSubscriptionJSON("sub_1", "cus_1", "active", "price_monthly_plus", testNow.AddDate(0, 1, 0).Unix()))

	res, err := svc.HandleWebhook(context.Background(), payload, signHeader(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "evt_1", res.EventID)

	info, err := svc.GetAccessInfo(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, info.HasActiveSubscription)
	assert.True(t, info.HasPlusAccess)
}

func TestHandleWebhook_ItemLevelPeriodEndsAccess(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "user-7", "cus_7")
	periodEnd := testNow.AddDate(0, 0, 5)
	payload := stripeEventJSON(t, "evt_7", "customer.subscription.updated",
		itemLevelPeriod(stripeSubscriptionJSON("sub_7", "cus_7", "active", "price_monthly_basic", periodEnd.Unix())))

	res, err := env.service(testNow).HandleWebhook(context.Background(), payload, signHeader(payload, testWebhookSecret))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)

	rec := env.record(t, "user-7")
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.Equal(t, periodEnd.Unix(), rec.CurrentPeriodEnd.Unix())

	before, err := env.service(testNow).GetAccessInfo(context.Background(), "user-7")
	require.NoError(t, err)
	assert.True(t, before.HasActiveSubscription)

	after, err := env.service(periodEnd.Add(time.Hour)).GetAccessInfo(context.Background(), "user-7")
	require.NoError(t, err)
	assert.False(t, after.HasActiveSubscription)
}

func TestHandleWebhook_RejectsBadSignatureWithoutWriting(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "user-2", "cus_2")
	payload := stripeEventJSON(t, "evt_2", "customer.subscription.created",
		stripeSubscriptionJSON("sub_2", "cus_2", "active", "price_monthly_basic", testNow.AddDate(0, 1, 0).Unix()))

	_, err := env.service(testNow).HandleWebhook(context.Background(), payload, signHeader(payload, "whsec_wrong"))
	assert.ErrorIs(t, err, ErrSignature)
	assert.Nil(t, env.record(t, "user-2"))
}

func TestHandleWebhook_SignedGarbageIsMalformed(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"id": "evt_3", "type": "customer.subscription.updated", "data": `)

	res, err := env.service(testNow).HandleWebhook(context.Background(), payload, signHeader(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, res.Outcome)
}

func TestGetAccessInfo_NoDataMeansNoAccess(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.service(testNow).GetAccessInfo(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, info.HasActiveSubscription)
	assert.False(t, info.HasPlusAccess)
	assert.Empty(t, info.PurchasedDivisionIDs)
	assert.Equal(t, testNow, info.EvaluatedAt)
}

func TestGetBookAccess_Coverage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, p := range []model.PurchaseEntry{
		{UserID: "user-3", BookID: "book-1", DivisionID: "div-1", ExpiresAt: testNow.Add(time.Hour)},
		{UserID: "user-3", BookID: "book-1", DivisionID: "div-2", ExpiresAt: testNow.Add(-time.Hour)},
		{UserID: "user-3", BookID: "book-2", DivisionID: "div-9", ExpiresAt: testNow.Add(time.Hour)},
	} {
		require.NoError(t, env.purchases.Upsert(ctx, p))
	}
	svc := env.service(testNow)

	access, err := svc.GetBookAccess(ctx, "user-3", "book-1", 4)
	require.NoError(t, err)
	assert.True(t, access.CanAccess)
	assert.Equal(t, 25, access.CoveragePercent)
	assert.Equal(t, []string{"div-1"}, access.PurchasedDivisionIDs)

	ok, err := svc.CanAccessBook(ctx, "user-3", "book-3")
	require.NoError(t, err)
	assert.False(t, ok)

	history, err := svc.ListPurchases(ctx, "user-3")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestCancelSubscription(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "user-4", "cus_4")
	svc := env.service(testNow)
	ctx := context.Background()

	err := svc.CancelSubscription(ctx, "user-4")
	assert.ErrorIs(t, err, ErrNoSubscription)

	_, err = svc.Reconcile(ctx, subscriptionEvent(EventSubscriptionCreated, "sub_4", "cus_4", model.StatusActive, "price_monthly_basic"))
	require.NoError(t, err)

	require.NoError(t, svc.CancelSubscription(ctx, "user-4"))
	assert.Equal(t, []string{"sub_4"}, env.gateway.canceled)
	rec := env.record(t, "user-4")
	assert.True(t, rec.CancelAtPeriodEnd)
	assert.Equal(t, model.StatusActive, rec.Status)
}

func TestCancelSubscription_GatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "user-5", "cus_5")
	svc := env.service(testNow)
	ctx := context.Background()
	_, err := svc.Reconcile(ctx, subscriptionEvent(EventSubscriptionCreated, "sub_5", "cus_5", model.StatusActive, "price_monthly_basic"))
	require.NoError(t, err)

	env.gateway.err = errors.New("stripe timeout")
	err = svc.CancelSubscription(ctx, "user-5")
	assert.ErrorIs(t, err, ErrGateway)
	assert.False(t, env.record(t, "user-5").CancelAtPeriodEnd)
}

func TestCancelSubscription_KeepsSubscriptionThatArrivedMeanwhile(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "user-8", "cus_8")
	svc := env.service(testNow)
	ctx := context.Background()
	_, err := svc.Reconcile(ctx, subscriptionEvent(EventSubscriptionCreated, "sub_old", "cus_8", model.StatusActive, "price_monthly_basic"))
	require.NoError(t, err)

	env.gateway.duringUpdate = func() {
		res, err := svc.Reconcile(ctx, subscriptionEvent(EventSubscriptionCreated, "sub_new", "cus_8", model.StatusActive, "price_yearly_plus"))
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, res.Outcome)
	}
	require.NoError(t, svc.CancelSubscription(ctx, "user-8"))
	assert.Equal(t, []string{"sub_old"}, env.gateway.canceled)

	rec := env.record(t, "user-8")
	assert.Equal(t, "sub_new", rec.ExternalSubscriptionID)
	assert.Equal(t, model.StatusActive, rec.Status)
	assert.Equal(t, model.PlanYearly, rec.PlanType)
	assert.True(t, rec.IsPlus)
	assert.False(t, rec.CancelAtPeriodEnd)

	history, err := env.subs.ListHistory(ctx, "user-8")
	require.NoError(t, err)
	byID := map[string]model.SubscriptionStatus{}
	for _, h := range history {
		byID[h.ExternalSubscriptionID] = h.Status
	}
	assert.Equal(t, model.StatusActive, byID["sub_new"])
	assert.Equal(t, model.StatusCanceled, byID["sub_old"])
}

func TestReactivateSubscription(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "user-9", "cus_9")
	svc := env.service(testNow)
	ctx := context.Background()

	assert.ErrorIs(t, svc.ReactivateSubscription(ctx, "user-9"), ErrNoSubscription)

	_, err := svc.Reconcile(ctx, subscriptionEvent(EventSubscriptionCreated, "sub_9", "cus_9", model.StatusActive, "price_monthly_plus"))
	require.NoError(t, err)
	require.NoError(t, svc.CancelSubscription(ctx, "user-9"))
	require.True(t, env.record(t, "user-9").CancelAtPeriodEnd)

	require.NoError(t, svc.ReactivateSubscription(ctx, "user-9"))
	assert.Equal(t, []string{"sub_9"}, env.gateway.reactivated)
	rec := env.record(t, "user-9")
	assert.False(t, rec.CancelAtPeriodEnd)
	assert.True(t, rec.IsPlus)

	env.gateway.err = errors.New("stripe timeout")
	assert.ErrorIs(t, svc.ReactivateSubscription(ctx, "user-9"), ErrGateway)
}

func TestSyncSubscription(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "user-10", "cus_10")
	periodEnd := testNow.AddDate(0, 0, 15)
	env.gateway.subs = map[string]stripe.Subscription{
		"sub_10": liveStripeSubscription("sub_10", "cus_10", stripe.SubscriptionStatusActive, "price_monthly_plus", periodEnd),
	}
	svc := env.service(testNow)
	ctx := context.Background()

	_, err := svc.SyncSubscription(ctx, SyncRequest{UserID: "user-10"})
	assert.ErrorIs(t, err, ErrNoSubscription)

	res, err := svc.SyncSubscription(ctx, SyncRequest{SubscriptionID: "sub_10"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "user-10", res.UserID)
	rec := env.record(t, "user-10")
	assert.Equal(t, model.StatusActive, rec.Status)
	assert.True(t, rec.IsPlus)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.Equal(t, periodEnd.Unix(), rec.CurrentPeriodEnd.Unix())

	env.gateway.subs["sub_10"] = liveStripeSubscription("sub_10", "cus_10", stripe.SubscriptionStatusPastDue, "price_monthly_plus", periodEnd)
	res, err = svc.SyncSubscription(ctx, SyncRequest{UserID: "user-10"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, model.StatusPastDue, env.record(t, "user-10").Status)

	// the regression guard still applies to synced state
	env.gateway.subs["sub_10"] = liveStripeSubscription("sub_10", "cus_10", stripe.SubscriptionStatusIncomplete, "price_monthly_plus", periodEnd)
	res, err = svc.SyncSubscription(ctx, SyncRequest{UserID: "user-10"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlockedRegression, res.Outcome)
}

func TestSyncSubscription_Errors(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service(testNow)
	ctx := context.Background()

	_, err := svc.SyncSubscription(ctx, SyncRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.SyncSubscription(ctx, SyncRequest{SubscriptionID: "sub_missing"})
	assert.ErrorIs(t, err, ErrGateway)
}

func TestCleanupDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, "user-6", "cus_6")
	env.gateway.active = map[string][]stripe.Subscription{
		"cus_6": {{ID: "sub_keep"}, {ID: "sub_dup_1"}, {ID: "sub_dup_2"}},
	}
	svc := env.service(testNow)
	ctx := context.Background()

	_, err := svc.CleanupDuplicates(ctx, CleanupRequest{UserID: "user-6", KeepSubscriptionID: "sub_keep"})
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Empty(t, env.gateway.canceled)

	_, err = svc.CleanupDuplicates(ctx, CleanupRequest{UserID: "user-6", KeepSubscriptionID: "sub_gone", Confirmed: true})
	assert.ErrorIs(t, err, ErrNoSubscription)

	res, err := svc.CleanupDuplicates(ctx, CleanupRequest{UserID: "user-6", KeepSubscriptionID: "sub_keep", Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_dup_1", "sub_dup_2"}, res.CanceledSubscriptionIDs)
	assert.Equal(t, []string{"sub_dup_1", "sub_dup_2"}, env.gateway.canceled)
}

func TestCleanupDuplicates_RequiresIDs(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service(testNow).CleanupDuplicates(context.Background(), CleanupRequest{Confirmed: true})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
