package services

import (
	"context"
	"time"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

const healthTimeout = 2 * time.Second

type HealthService struct {
	store records.Store
}

func NewHealthService(store records.Store) *HealthService {
	return &HealthService{store: store}
}

// Check pings the store with a short deadline of its own.
func (s *HealthService) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return s.store.Ping(ctx)
}
