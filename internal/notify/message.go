// Package notify sends lifecycle emails and CRM contact updates as detached,
// best-effort side effects.
package notify

import (
	"context"
	"time"
)

// Template identifies a transactional email template at the email provider.
type Template string

// Lifecycle templates.
const (
	TemplateSubscriptionConfirmed Template = "subscription_confirmed"
	TemplateSubscriptionCancelled Template = "subscription_cancelled"
	TemplatePaymentFailed         Template = "payment_failed"
	TemplateDeletionConfirmation  Template = "deletion_confirmation"
	TemplateAccountDeleted        Template = "account_deleted"
)

// Message is one outgoing email.
type Message struct {
	Template Template
	To       string
	UserID   string
	Data     map[string]any

	// DedupeKey suppresses repeat sends of the same logical email. Empty
	// disables de-duplication.
	DedupeKey string
}

// Contact is a CRM contact upsert.
type Contact struct {
	Email      string
	UserID     string
	Attributes map[string]any
}

// Sender is the non-blocking side-effect boundary used by the lifecycle
// services. Implementations never report failures to the caller.
type Sender interface {
	Send(ctx context.Context, msg Message)
	SyncContact(ctx context.Context, contact Contact)
	RemoveContact(ctx context.Context, email string)
}

// Mailer delivers a single email synchronously.
type Mailer interface {
	SendEmail(ctx context.Context, msg Message) error
}

// ContactStore applies CRM contact changes synchronously.
type ContactStore interface {
	UpsertContact(ctx context.Context, contact Contact) error
	DeleteContact(ctx context.Context, email string) error
}

// Deduper claims a key once within a TTL. A released key can be claimed
// again.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Switches are runtime kill switches consulted before each side effect.
type Switches interface {
	IsLifecycleEmailDisabled(ctx context.Context) bool
	IsCRMSyncDisabled(ctx context.Context) bool
}
