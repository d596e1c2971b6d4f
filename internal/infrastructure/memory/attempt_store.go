package memory

import (
	"context"
	"sync"

	domain "github.com/smartuniversity/marketplace-service/internal/domain/payment"
)

type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.Attempt // tenant/idempotencyKey -> attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]domain.Attempt),
	}
}

func (s *AttemptStore) Record(ctx context.Context, attempt domain.Attempt) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[orderKey(attempt.TenantID, attempt.IdempotencyKey)] = attempt
	return nil
}

func (s *AttemptStore) FindByKey(ctx context.Context, tenantID, idempotencyKey string) (domain.Attempt, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	attempt, ok := s.attempts[orderKey(tenantID, idempotencyKey)]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}
