package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/letterforge/letterforge/internal/account"
)

// ErrCustomerNotResolved means no account matches a gateway customer. Event
// handlers treat it as a soft failure: the event may have raced ahead of
// account provisioning.
var ErrCustomerNotResolved = errors.New("billing customer not resolved to an account")

// Resolver maps gateway customers to accounts.
type Resolver struct {
	accounts account.Repository
	gateway  Gateway
	logger   zerolog.Logger
}

// NewResolver creates a customer resolver.
func NewResolver(accounts account.Repository, gateway Gateway, logger zerolog.Logger) *Resolver {
	return &Resolver{accounts: accounts, gateway: gateway, logger: logger}
}

// Resolve finds the account for customerID, first by the stored link and then
// by the customer's email, backfilling the link on an email match.
func (r *Resolver) Resolve(ctx context.Context, customerID string) (*account.Account, error) {
	if customerID == "" {
		return nil, ErrCustomerNotResolved
	}

	acct, err := r.accounts.FindByCustomerID(ctx, customerID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, account.ErrAccountNotFound) {
		return nil, fmt.Errorf("find account by customer: %w", err)
	}

	email, err := r.gateway.CustomerEmail(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return nil, ErrCustomerNotResolved
		}
		return nil, err
	}
	if email == "" {
		return nil, ErrCustomerNotResolved
	}

	acct, err = r.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return nil, ErrCustomerNotResolved
		}
		return nil, fmt.Errorf("find account by email: %w", err)
	}

	if err := r.accounts.LinkCustomer(ctx, acct.ID, customerID); err != nil {
		return nil, fmt.Errorf("backfill customer link: %w", err)
	}
	acct.StripeCustomerID = customerID

	r.logger.Info().
		Str("user_id", acct.ID).
		Str("customer_id", customerID).
		Msg("linked billing customer to account by email")
	return acct, nil
}
