package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartuniversity/marketplace-service/internal/domain/payment"
	"github.com/smartuniversity/marketplace-service/internal/observability"
)

// GuardedGateway decorates a payment gateway with the resilience policy.
// Retried attempts reuse the same idempotency key so the payment authority can
// deduplicate; a decline is surfaced as-is and never trips the breaker.
type GuardedGateway struct {
	inner  payment.Gateway
	policy *Policy
}

func NewGuardedGateway(inner payment.Gateway, cfg Config, logger observability.Logger, transitions observability.Counter) *GuardedGateway {
	return &GuardedGateway{
		inner:  inner,
		policy: NewPolicy(cfg, transientPaymentError, logger, transitions),
	}
}

// Policy exposes breaker state for health reporting.
func (g *GuardedGateway) Policy() *Policy { return g.policy }

func (g *GuardedGateway) Authorize(ctx context.Context, tenantID, orderID string, amountCents int64, idempotencyKey string) (payment.Authorization, error) {
	var auth payment.Authorization
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		result, err := g.inner.Authorize(ctx, tenantID, orderID, amountCents, idempotencyKey)
		if err != nil {
			return err
		}
		auth = result
		return nil
	})
	if err != nil {
		return payment.Authorization{}, translate(err)
	}
	return auth, nil
}

func (g *GuardedGateway) Cancel(ctx context.Context, tenantID, providerReference string) error {
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		return g.inner.Cancel(ctx, tenantID, providerReference)
	})
	return translate(err)
}

func transientPaymentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, payment.ErrDeclined) {
		return false
	}
	return errors.Is(err, payment.ErrServiceUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%w: %v", payment.ErrServiceUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", payment.ErrServiceUnavailable, err)
	}
	return err
}
