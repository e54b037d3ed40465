package deletion

import (
	"context"
	"fmt"
)

// CleanupExpired removes pending requests that were never confirmed within
// the pending expiry.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.pendingExpiry)
	removed, err := s.repo.DeleteExpiredPending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired requests: %w", err)
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("expired deletion requests removed")
	}
	return removed, nil
}

// Status counts live, due and expired requests.
func (s *Service) Status(ctx context.Context) (*StatusCounts, error) {
	now := s.now().UTC()
	counts, err := s.repo.Counts(ctx, now, now.Add(-s.pendingExpiry))
	if err != nil {
		return nil, fmt.Errorf("deletion status: %w", err)
	}
	return counts, nil
}

// FullMaintenance expires stale requests, executes due ones and reports the
// resulting status.
func (s *Service) FullMaintenance(ctx context.Context) (*MaintenanceResult, error) {
	removed, err := s.CleanupExpired(ctx)
	if err != nil {
		return nil, err
	}

	execution, err := s.ExecuteDue(ctx)
	if err != nil {
		return nil, err
	}

	status, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}

	return &MaintenanceResult{
		ExpiredRemoved: removed,
		Execution:      execution,
		Status:         *status,
	}, nil
}
