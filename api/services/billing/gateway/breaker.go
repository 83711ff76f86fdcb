package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	stripe "github.com/stripe/stripe-go"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("billing provider unavailable")

// BreakerConfig configures the circuit breaker around provider calls.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig trips after five consecutive failures and lets one call through again after 30s.
var DefaultBreakerConfig = BreakerConfig{
	MaxRequests:      1,
	Interval:         time.Minute,
	Timeout:          30 * time.Second,
	FailureThreshold: 5,
}

type breakerGateway struct {
	inner   BillingGateway
	breaker *gobreaker.CircuitBreaker[any]
}

// WithBreaker wraps inner so repeated provider failures fail fast with ErrUnavailable.
func WithBreaker(inner BillingGateway, cfg BreakerConfig) BillingGateway {
	settings := gobreaker.Settings{
		Name:        "billing-gateway",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return breakerGateway{inner: inner, breaker: gobreaker.NewCircuitBreaker[any](settings)}
}

func (b breakerGateway) execute(fn func() (any, error)) (any, error) {
	out, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return out, err
}

func (b breakerGateway) GetSubscription(ctx context.Context, id string) (stripe.Subscription, error) {
	out, err := b.execute(func() (any, error) { return b.inner.GetSubscription(ctx, id) })
	if err != nil {
		return stripe.Subscription{}, err
	}
	return out.(stripe.Subscription), nil
}

func (b breakerGateway) ListActiveSubscriptions(ctx context.Context, customerID string) ([]stripe.Subscription, error) {
	out, err := b.execute(func() (any, error) { return b.inner.ListActiveSubscriptions(ctx, customerID) })
	if err != nil {
		return nil, err
	}
	return out.([]stripe.Subscription), nil
}

func (b breakerGateway) CancelAtPeriodEnd(ctx context.Context, id string) error {
	_, err := b.execute(func() (any, error) { return nil, b.inner.CancelAtPeriodEnd(ctx, id) })
	return err
}

func (b breakerGateway) Reactivate(ctx context.Context, id string) error {
	_, err := b.execute(func() (any, error) { return nil, b.inner.Reactivate(ctx, id) })
	return err
}
