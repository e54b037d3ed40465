package billing

import (
	"context"
	"errors"
	"fmt"
)

// Plan tiers derived from subscription state.
const (
	TierFree = "free"
	TierPro  = "pro"
)

// TierResolver derives an account's plan tier from its local subscription
// records.
type TierResolver struct {
	repo        Repository
	proPriceIDs map[string]struct{}
}

// NewTierResolver creates a tier resolver. When proPriceIDs is empty any
// active or trialing subscription counts as pro.
func NewTierResolver(repo Repository, proPriceIDs []string) *TierResolver {
	ids := make(map[string]struct{}, len(proPriceIDs))
	for _, id := range proPriceIDs {
		if id != "" {
			ids[id] = struct{}{}
		}
	}
	return &TierResolver{repo: repo, proPriceIDs: ids}
}

// Tier returns TierPro or TierFree for the user.
func (t *TierResolver) Tier(ctx context.Context, userID string) (string, error) {
	sub, err := t.repo.LatestSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return TierFree, nil
		}
		return "", fmt.Errorf("resolve tier: %w", err)
	}
	if !sub.IsActive() {
		return TierFree, nil
	}
	if len(t.proPriceIDs) > 0 {
		if _, ok := t.proPriceIDs[sub.PriceID]; !ok {
			return TierFree, nil
		}
	}
	return TierPro, nil
}
