// Package scheduler implements the scheduled lifecycle sweep for the medcase
// entitlement service.
//
// This file defines the shared payload types for the sweep multiplexer. The
// SweepPayload is the JSON structure an EventBridge rule (or a manual
// invocation) sends to the sweeper function; the TaskType constant determines
// which pass runs.
package scheduler

import "time"

// TaskType identifies which sweep pass a scheduled event requests.
type TaskType string

const (
	// TaskDowngradeExpired runs only the expire pass.
	TaskDowngradeExpired TaskType = "downgrade_expired"
	// TaskCleanupExpiredData runs only the data-retention cleanup pass.
	TaskCleanupExpiredData TaskType = "cleanup_expired_data"
	// TaskFullSweep runs both passes, expire first. This is the task the
	// daily schedule fires.
	TaskFullSweep TaskType = "full_sweep"
)

// SweepPayload is the JSON payload delivered to the sweeper function.
//
//	{
//	  "task": "full_sweep",
//	  "reference_time": "2026-09-01T00:00:00Z"  // optional
//	}
type SweepPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime lets a manual invocation pin "now" for deterministic
	// execution and backfill. If nil, time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
