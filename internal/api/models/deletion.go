package models

// DeletionRequestCreate is the request body for opening a deletion request.
type DeletionRequestCreate struct {
	Password              string  `json:"password" validate:"required"`
	DeletionType          string  `json:"deletion_type,omitempty" validate:"omitempty,oneof=soft hard"`
	Reason                *string `json:"reason,omitempty" validate:"omitempty,max=1000"`
	SendConfirmationEmail *bool   `json:"send_confirmation_email,omitempty"`
}

// DeletionRequestCreated is returned after a request is opened. The token is
// only present when no confirmation email was sent.
type DeletionRequestCreated struct {
	RequestID            string    `json:"request_id"`
	ScheduledDeletionAt  Timestamp `json:"scheduled_deletion_at"`
	ConfirmationRequired bool      `json:"confirmation_required"`
	CooldownHours        int       `json:"cooldown_hours"`
	DeletionType         string    `json:"deletion_type"`
	ConfirmationToken    string    `json:"confirmation_token,omitempty"`
}

// DeletionConfirm is the request body for confirming a deletion.
type DeletionConfirm struct {
	ConfirmationToken string `json:"confirmation_token" validate:"required,max=128"`
}

// DeletionConfirmed is returned after a request is confirmed.
type DeletionConfirmed struct {
	UserID                string    `json:"user_id"`
	ScheduledDeletionAt   Timestamp `json:"scheduled_deletion_at"`
	SubscriptionCancelled bool      `json:"subscription_cancelled"`
}

// DeletionCancel is the optional request body for cancelling a deletion.
type DeletionCancel struct {
	ConfirmationToken string `json:"confirmation_token,omitempty" validate:"omitempty,max=128"`
}

// DeletionRequest is the caller's view of their live request.
type DeletionRequest struct {
	ID                  string     `json:"id"`
	Status              string     `json:"status"`
	DeletionType        string     `json:"deletion_type"`
	Reason              string     `json:"reason,omitempty"`
	CooldownHours       int        `json:"cooldown_hours"`
	ScheduledDeletionAt Timestamp  `json:"scheduled_deletion_at"`
	ConfirmedAt         *Timestamp `json:"confirmed_at,omitempty"`
	CreatedAt           Timestamp  `json:"created_at"`
}
