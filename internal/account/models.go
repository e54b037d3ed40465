// Package account reads and links the host application's user profiles.
package account

import "time"

// Account is the internal profile the lifecycle components operate on.
type Account struct {
	ID               string
	Email            string
	StripeCustomerID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasCustomer reports whether the account is linked to a billing customer.
func (a *Account) HasCustomer() bool {
	return a.StripeCustomerID != ""
}
