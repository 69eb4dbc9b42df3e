package execution

import (
	"context"
	"errors"
	"fmt"

	"tradecore/internal/domain"
	"tradecore/internal/infra"
	"tradecore/pkg/quant"
)

// ErrThrottled is returned when a venue request exceeds the configured request rate.
var ErrThrottled = errors.New("venue request throttled")

// GuardedClient protects a venue with a circuit breaker and an optional rate limit.
// Requests never block: a throttled or rejected request fails at once and the engine
// answers it with the matching rejection event.
type GuardedClient struct {
	inner   Client
	breaker *infra.CircuitBreaker
	limiter *infra.RateLimiter
}

// NewGuardedClient wraps inner. limiter may be nil for no rate limit.
func NewGuardedClient(inner Client, breaker *infra.CircuitBreaker, limiter *infra.RateLimiter) *GuardedClient {
	return &GuardedClient{inner: inner, breaker: breaker, limiter: limiter}
}

func (g *GuardedClient) call(op string, o *Order, fn func() error) error {
	if g.limiter != nil && !g.limiter.TryAcquire() {
		return fmt.Errorf("%s %s: %w", op, o.ClientOrderID, ErrThrottled)
	}
	if err := g.breaker.Execute(fn); err != nil {
		return fmt.Errorf("%s %s: %w", op, o.ClientOrderID, err)
	}
	return nil
}

func (g *GuardedClient) SubmitOrder(ctx context.Context, o *Order) error {
	return g.call("submit", o, func() error { return g.inner.SubmitOrder(ctx, o) })
}

func (g *GuardedClient) ModifyOrder(ctx context.Context, o *Order, qty *quant.Quantity, price, triggerPrice *quant.Price) error {
	return g.call("modify", o, func() error { return g.inner.ModifyOrder(ctx, o, qty, price, triggerPrice) })
}

// CancelOrder bypasses the rate limit so exposure can always be reduced.
func (g *GuardedClient) CancelOrder(ctx context.Context, o *Order) error {
	if err := g.breaker.Execute(func() error { return g.inner.CancelOrder(ctx, o) }); err != nil {
		return fmt.Errorf("cancel %s: %w", o.ClientOrderID, err)
	}
	return nil
}

func (g *GuardedClient) Capabilities() Capabilities { return g.inner.Capabilities() }

// OnBookUpdate forwards book notifications to venues that simulate matching.
func (g *GuardedClient) OnBookUpdate(id domain.InstrumentID) {
	if obs, ok := g.inner.(interface{ OnBookUpdate(domain.InstrumentID) }); ok {
		obs.OnBookUpdate(id)
	}
}

// State exposes the breaker state for monitoring.
func (g *GuardedClient) State() infra.State { return g.breaker.GetState() }
