package store

import (
	"encoding/json"
	"time"
)

// Aggregation bucket states. A bucket is open while its window accepts
// increments and closed (immutable) afterwards; closure is decided by
// window_expires_at, the status column only mirrors it for querying.
const (
	EventStatusOpen   = "open"
	EventStatusClosed = "closed"
)

// AggregatedEvent is one persisted aggregation bucket.
type AggregatedEvent struct {
	ID              int64           `json:"id"`
	BucketKey       string          `json:"bucket_key"`
	EventType       string          `json:"event_type"`
	ItemID          string          `json:"item_id"`
	ItemName        string          `json:"item_name"`
	ItemType        string          `json:"item_type"`
	AggregatedCount int             `json:"aggregated_count"`
	Status          string          `json:"status"`
	Payload         json.RawMessage `json:"payload"`
	WindowStartedAt time.Time       `json:"window_started_at"`
	WindowExpiresAt time.Time       `json:"window_expires_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Delete plan lifecycle.
const (
	PlanStatusPlanned  = "planned"
	PlanStatusExecuted = "executed"
	PlanStatusFailed   = "failed"
)

// PlanItem is one target inside a delete plan. Items that could not be
// resolved against the media table stay in the plan for visibility but are
// never executed.
type PlanItem struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name,omitempty"`
	Path       string `json:"path,omitempty"`
	PickCode   string `json:"pickcode,omitempty"`
	IsStrm     bool   `json:"is_strm,omitempty"`
	Resolvable bool   `json:"resolvable"`
}

// ItemFailure records a per-item execution failure.
type ItemFailure struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}

// ExecutionSummary is the stored outcome of a plan execution. Repeat
// executions return this stored value unchanged.
type ExecutionSummary struct {
	Success       bool          `json:"success"`
	ExecutedItems int           `json:"executed_items"`
	FailedItems   int           `json:"failed_items"`
	SkippedItems  int           `json:"skipped_items"`
	Failures      []ItemFailure `json:"failures,omitempty"`
}

// DeletePlan is a two-phase deletion: planned first (dry run, nothing
// mutated), executed at most once later.
type DeletePlan struct {
	PlanID         string            `json:"plan_id"`
	Source         string            `json:"source"`
	DryRun         bool              `json:"dry_run"`
	Executed       bool              `json:"executed"`
	Status         string            `json:"status"`
	RequestPayload json.RawMessage   `json:"request_payload"`
	Items          []PlanItem        `json:"plan_items"`
	Result         *ExecutionSummary `json:"result,omitempty"`
	ExecutedBy     *string           `json:"executed_by,omitempty"`
	ExecutedAt     *time.Time        `json:"executed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// MediaItem is one Emby library entry tracked by the maintenance pipeline.
type MediaItem struct {
	EmbyID     string    `json:"emby_id"`
	LibraryID  string    `json:"library_id"`
	Name       string    `json:"name"`
	Type       string    `json:"item_type"`
	Path       string    `json:"path"`
	PickCode   string    `json:"pickcode"`
	IsStrm     bool      `json:"is_strm"`
	SyncStatus string    `json:"sync_status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
