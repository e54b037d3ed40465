// Package deletion implements the account deletion workflow: a request is
// created, confirmed through an emailed token, waits out a cooldown, and is
// then executed by the batch executor.
package deletion

import (
	"time"

	"github.com/letterforge/letterforge/internal/billing"
)

// Status is the lifecycle state of a deletion request.
type Status string

// Request statuses. Cancelled and completed are terminal.
const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// IsLive reports whether the request still counts as the user's active one.
func (s Status) IsLive() bool {
	return s == StatusPending || s == StatusConfirmed
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Type selects the data-deletion procedure.
type Type string

// Deletion types.
const (
	TypeSoft Type = "soft"
	TypeHard Type = "hard"
)

// Valid reports whether t is a known deletion type.
func (t Type) Valid() bool {
	return t == TypeSoft || t == TypeHard
}

// Procedure returns the database function that carries out the deletion.
func (t Type) Procedure() string {
	if t == TypeHard {
		return "delete_user_data"
	}
	return "anonymize_user_data"
}

// Request is a user's account deletion request.
type Request struct {
	ID                  string
	UserID              string
	Status              Status
	Type                Type
	Reason              string
	TokenHash           string
	CooldownHours       int
	ScheduledDeletionAt time.Time
	ConfirmedAt         *time.Time
	CancelledAt         *time.Time
	CompletedAt         *time.Time

	RequestedIP        string
	RequestedUserAgent string
	CancelledIP        string
	CancelledUserAgent string

	ExecutionAttempts int
	LastError         string

	// Refund is carried from confirmation to execution when refunds run at
	// confirm time.
	Refund *billing.RefundOutcome

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDue reports whether a confirmed request has reached its scheduled time.
func (r *Request) IsDue(now time.Time) bool {
	return r.Status == StatusConfirmed && !r.ScheduledDeletionAt.After(now)
}

func (r *Request) clone() *Request {
	c := *r
	if r.Refund != nil {
		refund := *r.Refund
		c.Refund = &refund
	}
	return &c
}

// CreateInput holds the caller-supplied fields for a new request.
type CreateInput struct {
	UserID                string
	Password              string
	Type                  Type
	Reason                string
	SendConfirmationEmail bool
	IP                    string
	UserAgent             string
}

// Created is returned from Create.
type Created struct {
	RequestID            string
	ScheduledDeletionAt  time.Time
	ConfirmationRequired bool
	CooldownHours        int
	Type                 Type
	// ConfirmationToken is only returned when no confirmation email was sent.
	ConfirmationToken string
}

// Confirmed is returned from Confirm.
type Confirmed struct {
	UserID                string
	ScheduledDeletionAt   time.Time
	SubscriptionCancelled bool
}

// CancelInput identifies the request to cancel.
type CancelInput struct {
	UserID    string
	Token     string
	IP        string
	UserAgent string
}

// BatchResult aggregates a batch execution run.
type BatchResult struct {
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// StatusCounts summarizes request state for the maintenance status endpoint.
type StatusCounts struct {
	ActiveRequests   int `json:"active_requests"`
	ReadyForDeletion int `json:"ready_for_deletion"`
	ExpiredRequests  int `json:"expired_requests"`
}

// MaintenanceResult is returned by the full maintenance run.
type MaintenanceResult struct {
	ExpiredRemoved int          `json:"expired_removed"`
	Execution      *BatchResult `json:"execution"`
	Status         StatusCounts `json:"status"`
}
