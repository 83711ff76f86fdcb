package bootstrap

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/tbeaudouin05/study-entitlements/api/config"
	"github.com/tbeaudouin05/study-entitlements/api/database"
	billingapp "github.com/tbeaudouin05/study-entitlements/api/services/billing/app"
	"github.com/tbeaudouin05/study-entitlements/api/services/billing/cache"
	billingdb "github.com/tbeaudouin05/study-entitlements/api/services/billing/db"
	gw "github.com/tbeaudouin05/study-entitlements/api/services/billing/gateway"
	stripegw "github.com/tbeaudouin05/study-entitlements/api/services/billing/gateway/stripe"
)

var billingService billingapp.Service
var initOnce sync.Once
var initErr error

// Init initializes config, database, cache and the billing provider client, and wires services.
func Init() error {
	// If a service has already been injected (e.g., tests), do not override or init heavy deps.
	if billingService != nil {
		return nil
	}
	var err error
	if config.AppConfig == nil {
		config.AppConfig, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := config.AppConfig

	if err := database.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	conn := database.GetDB()

	var subs billingapp.SubscriptionStore = billingdb.NewSubscriptionStore(conn)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		subs = cache.NewSubscriptionCache(subs, redis.NewClient(opts), cfg.CacheTTL())
		slog.Info("subscription cache enabled", "addr", opts.Addr, "ttl", cfg.CacheTTL())
	}

	stripegw.SetKey(cfg.StripeSecretKey)

	billingService = billingapp.NewService(billingapp.Dependencies{
		Subscriptions: subs,
		Purchases:     billingdb.NewPurchaseLedger(conn),
		Profiles:      billingdb.NewProfileDirectory(conn),
		Gateway:       gw.WithBreaker(stripegw.New(), gw.DefaultBreakerConfig),
		Catalog: billingapp.NewPlanCatalog(billingapp.PriceRefs{
			MonthlyBasic: cfg.PriceMonthlyBasic,
			MonthlyPlus:  cfg.PriceMonthlyPlus,
			YearlyBasic:  cfg.PriceYearlyBasic,
			YearlyPlus:   cfg.PriceYearlyPlus,
		}),
		WebhookSecret:      cfg.StripeWebhookSecret,
		PurchaseAccessDays: cfg.PurchaseAccessWindow(),
	})
	return nil
}

func GetBillingService() billingapp.Service { return billingService }

// SetBillingService allows tests to inject a stub implementation.
func SetBillingService(s billingapp.Service) { billingService = s }

// Ensure runs Init() once per process and returns any initialization error.
func Ensure() error {
	initOnce.Do(func() {
		initErr = Init()
	})
	return initErr
}
