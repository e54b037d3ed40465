package models

// Admin actions.
const (
	ActionExecutePendingDeletions = "execute_pending_deletions"
	ActionExecuteUserDeletion     = "execute_user_deletion"
	ActionCleanupExpiredRequests  = "cleanup_expired_requests"
	ActionFullMaintenance         = "full_maintenance"
)

// AdminDeletionRequest is the request body for POST /v1/admin/deletions.
type AdminDeletionRequest struct {
	Action      string `json:"action" validate:"required,oneof=execute_pending_deletions execute_user_deletion"`
	AdminSecret string `json:"admin_secret" validate:"required"`
	UserID      string `json:"user_id,omitempty" validate:"required_if=Action execute_user_deletion"`
}

// MaintenanceRequest is the request body for POST /v1/maintenance/cleanup.
type MaintenanceRequest struct {
	Action      string `json:"action" validate:"required,oneof=cleanup_expired_requests execute_pending_deletions full_maintenance"`
	AdminSecret string `json:"admin_secret" validate:"required"`
}

// BatchResult reports a batch execution.
type BatchResult struct {
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// CleanupResult reports an expiry sweep.
type CleanupResult struct {
	ExpiredRemoved int `json:"expired_removed"`
}

// MaintenanceStatus is the body of GET /v1/maintenance/status.
type MaintenanceStatus struct {
	ActiveRequests   int `json:"active_requests"`
	ReadyForDeletion int `json:"ready_for_deletion"`
	ExpiredRequests  int `json:"expired_requests"`
}

// FullMaintenanceResult reports a full maintenance run.
type FullMaintenanceResult struct {
	ExpiredRemoved int               `json:"expired_removed"`
	Execution      *BatchResult      `json:"execution,omitempty"`
	Status         MaintenanceStatus `json:"status"`
}

// FeatureFlag is one runtime switch.
type FeatureFlag struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	UpdatedAt *Timestamp  `json:"updated_at,omitempty"`
}

// FeatureFlagList is the body of GET /v1/admin/feature-flags.
type FeatureFlagList struct {
	Items []FeatureFlag `json:"items"`
}

// FeatureFlagUpdate sets one flag.
type FeatureFlagUpdate struct {
	Key   string      `json:"key" validate:"required"`
	Value interface{} `json:"value"`
}

// FeatureFlagUpdateRequest is the body of PUT /v1/admin/feature-flags.
type FeatureFlagUpdateRequest struct {
	Updates []FeatureFlagUpdate `json:"updates" validate:"required,min=1,dive"`
	Reason  string              `json:"reason,omitempty" validate:"omitempty,max=500"`
}
