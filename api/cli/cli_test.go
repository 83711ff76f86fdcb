package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bootstrap "github.com/tbeaudouin05/study-entitlements/api/bootstrap"
	database "github.com/tbeaudouin05/study-entitlements/api/database"
	billingapp "github.com/tbeaudouin05/study-entitlements/api/services/billing/app"
	billingdb "github.com/tbeaudouin05/study-entitlements/api/services/billing/db"
	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

func resetFlags() {
	accessBook = ""
	accessTotalDivisions = 0
	upgradeUser, upgradeSubscription, upgradePlan = "", "", ""
	cleanupUser, cleanupKeep, cleanupConfirm = "", "", false
	replayEventPath = ""
	syncSubscriptionID = ""
}

func withService(t *testing.T) *billingdb.PurchaseLedger {
	t.Helper()
	resetFlags()
	conn, err := database.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ledger := billingdb.NewPurchaseLedger(conn)
	prev := bootstrap.GetBillingService()
	bootstrap.SetBillingService(billingapp.NewService(billingapp.Dependencies{
		Subscriptions: billingdb.NewSubscriptionStore(conn),
		Purchases:     ledger,
		Profiles:      billingdb.NewProfileDirectory(conn),
		Catalog:       billingapp.NewPlanCatalog(billingapp.PriceRefs{}),
	}))
	t.Cleanup(func() { bootstrap.SetBillingService(prev) })
	return ledger
}

func TestAccessCmd_NoEntitlements(t *testing.T) {
	withService(t)

	var output strings.Builder
	accessCmd.SetContext(context.Background())
	accessCmd.SetOut(&output)

	require.NoError(t, accessCmd.RunE(accessCmd, []string{"user-1"}))
	assert.Contains(t, output.String(), "Subscription: false")
	assert.Contains(t, output.String(), "Purchased divisions: none")
}

func TestAccessCmd_BookCoverage(t *testing.T) {
	ledger := withService(t)
	require.NoError(t, ledger.Upsert(context.Background(), model.PurchaseEntry{
		UserID: "user-2", BookID: "book-1", DivisionID: "div-1", ExpiresAt: time.Now().Add(time.Hour),
	}))
	accessBook = "book-1"
	accessTotalDivisions = 4

	var output strings.Builder
	accessCmd.SetContext(context.Background())
	accessCmd.SetOut(&output)

	require.NoError(t, accessCmd.RunE(accessCmd, []string{"user-2"}))
	assert.Contains(t, output.String(), `"coveragePercent": 25`)
}

func TestValidateUpgradeCmd(t *testing.T) {
	withService(t)

	validateUpgradeCmd.SetContext(context.Background())
	err := validateUpgradeCmd.RunE(validateUpgradeCmd, nil)
	assert.EqualError(t, err, "plan is required")

	upgradePlan = billingapp.PlanMonthlyPlus
	var output strings.Builder
	validateUpgradeCmd.SetOut(&output)
	require.NoError(t, validateUpgradeCmd.RunE(validateUpgradeCmd, nil))
	assert.Contains(t, output.String(), `"isValid": true`)
	assert.Contains(t, output.String(), billingapp.ScenarioFirstSubscription)
}

func TestCleanupCmd_RequiresConfirm(t *testing.T) {
	withService(t)
	cleanupUser = "user-3"
	cleanupKeep = "sub_1"

	cleanupCmd.SetContext(context.Background())
	err := cleanupCmd.RunE(cleanupCmd, nil)
	assert.ErrorIs(t, err, billingapp.ErrConfirmationRequired)
}

func TestReplayCmd_AppliesCheckout(t *testing.T) {
	ledger := withService(t)
	path := filepath.Join(t.TempDir(), "evt.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"id": "evt_replay",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"mode": "payment",
			"metadata": {"userId": "user-4", "bookId": "book-1", "divisionId": "div-2"}
		}}
	}`), 0o600))
	replayEventPath = path

	var output strings.Builder
	replayCmd.SetContext(context.Background())
	replayCmd.SetOut(&output)
	require.NoError(t, replayCmd.RunE(replayCmd, nil))
	assert.Contains(t, output.String(), "Event evt_replay: applied")

	all, err := ledger.ListByUser(context.Background(), "user-4")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "div-2", all[0].DivisionID)
}

func TestMigrateCmd_RejectsUnknownDirection(t *testing.T) {
	migrateCmd.SetContext(context.Background())
	err := migrateCmd.RunE(migrateCmd, []string{"sideways"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown direction")
}

func TestReactivateCmd_NoSubscription(t *testing.T) {
	withService(t)
	reactivateCmd.SetContext(context.Background())

	err := reactivateCmd.RunE(reactivateCmd, []string{"user-1"})
	assert.ErrorIs(t, err, billingapp.ErrNoSubscription)
}

func TestSyncCmd_RequiresTarget(t *testing.T) {
	withService(t)
	syncCmd.SetContext(context.Background())

	err := syncCmd.RunE(syncCmd, nil)
	assert.ErrorIs(t, err, billingapp.ErrInvalidRequest)

	err = syncCmd.RunE(syncCmd, []string{"user-1"})
	assert.ErrorIs(t, err, billingapp.ErrNoSubscription)
}
