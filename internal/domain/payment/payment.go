package payment

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeclined is an explicit negative authorization. It is a business
	// outcome, not a fault: the resilience layer must not retry it or count
	// it against the circuit breaker.
	ErrDeclined = errors.New("payment: authorization declined")

	// ErrServiceUnavailable covers transport failures, timeouts, and an open
	// circuit. Callers may retry later with the same idempotency key.
	ErrServiceUnavailable = errors.New("payment: service unavailable")
)

// Authorization is the successful result of an authorize call.
type Authorization struct {
	ProviderReference string
}

// Gateway talks to the external payment authority. Both calls must honour the
// context deadline; the remote side deduplicates on the idempotency key.
type Gateway interface {
	Authorize(ctx context.Context, tenantID, orderID string, amountCents int64, idempotencyKey string) (Authorization, error)
	Cancel(ctx context.Context, tenantID, providerReference string) error
}

type AttemptOutcome string

const (
	AttemptApproved AttemptOutcome = "APPROVED"
	AttemptDeclined AttemptOutcome = "DECLINED"
)

// Attempt records the outcome of an authorization so a retried saga step never
// authorizes the same idempotency key twice.
type Attempt struct {
	TenantID          string
	OrderID           string
	IdempotencyKey    string
	Outcome           AttemptOutcome
	ProviderReference string
	CreatedAt         time.Time
}

var ErrAttemptNotFound = errors.New("payment: attempt not found")

type AttemptStore interface {
	Record(ctx context.Context, attempt Attempt) error
	FindByKey(ctx context.Context, tenantID, idempotencyKey string) (Attempt, error)
}
