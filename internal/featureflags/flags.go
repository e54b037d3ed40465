// Package featureflags holds the runtime kill switches for the account
// lifecycle: refund timing, batch execution, and outbound side effects.
package featureflags

import (
	"sort"
	"time"
)

// Flag keys.
const (
	// FlagRefundAtConfirm computes the pro-rata refund when a deletion is
	// confirmed, before the subscription is cancelled, and carries the
	// outcome to the execution step.
	FlagRefundAtConfirm = "refund_at_confirm"

	// FlagPauseDeletionExecution stops the batch executor from running.
	FlagPauseDeletionExecution = "pause_deletion_execution"

	// FlagDisableLifecycleEmails suppresses every outgoing lifecycle email.
	FlagDisableLifecycleEmails = "disable_lifecycle_emails"

	// FlagDisableCRMSync suppresses CRM contact updates.
	FlagDisableCRMSync = "disable_crm_sync"
)

var knownKeys = []string{
	FlagDisableCRMSync,
	FlagDisableLifecycleEmails,
	FlagPauseDeletionExecution,
	FlagRefundAtConfirm,
}

// Flag is a stored switch. Value is whatever JSON the operator wrote.
type Flag struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BoolValue reads the flag as a switch. Numbers count as on when non-zero;
// anything else, including a nil flag, yields def.
func (f *Flag) BoolValue(def bool) bool {
	if f == nil {
		return def
	}
	switch v := f.Value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return def
	}
}

// Keys returns the known flag keys in sorted order.
func Keys() []string {
	keys := append([]string(nil), knownKeys...)
	sort.Strings(keys)
	return keys
}

// IsKnown reports whether key names a known flag.
func IsKnown(key string) bool {
	for _, k := range knownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// DefaultFlags returns every known flag switched off.
func DefaultFlags() map[string]*Flag {
	defaults := make(map[string]*Flag, len(knownKeys))
	for _, key := range knownKeys {
		defaults[key] = &Flag{Key: key, Value: false}
	}
	return defaults
}
