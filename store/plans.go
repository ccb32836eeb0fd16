package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

var ErrPlanNotFound = errors.New("store: plan not found")

// PlanStore persists delete plans and runs their one-shot execution.
type PlanStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPlanStore(db *sql.DB) *PlanStore {
	return &PlanStore{db: db, now: time.Now}
}

// Create persists a freshly planned deletion. Nothing is mutated yet.
func (s *PlanStore) Create(ctx context.Context, plan *DeletePlan) error {
	items, err := json.Marshal(plan.Items)
	if err != nil {
		return fmt.Errorf("store: marshal plan items: %w", err)
	}
	payload := plan.RequestPayload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO delete_plans (plan_id, source, dry_run, executed, status, request_payload, plan_items, created_at, updated_at)
VALUES ($1, $2, $3, FALSE, $4, $5, $6, $7, $7)`,
		plan.PlanID, plan.Source, plan.DryRun, PlanStatusPlanned, []byte(payload), items, now)
	if err != nil {
		return fmt.Errorf("store: create plan: %w", err)
	}
	plan.Status = PlanStatusPlanned
	plan.CreatedAt = now
	return nil
}

const planColumns = `plan_id, source, dry_run, executed, status, request_payload, plan_items, result, executed_by, executed_at, created_at`

// Get loads one plan by id.
func (s *PlanStore) Get(ctx context.Context, planID string) (*DeletePlan, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+planColumns+" FROM delete_plans WHERE plan_id = $1", planID)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	return plan, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*DeletePlan, error) {
	var plan DeletePlan
	var payload, items []byte
	var result sql.NullString
	var executedBy sql.NullString
	var executedAt sql.NullTime
	err := row.Scan(&plan.PlanID, &plan.Source, &plan.DryRun, &plan.Executed, &plan.Status,
		&payload, &items, &result, &executedBy, &executedAt, &plan.CreatedAt)
	if err != nil {
		return nil, err
	}
	plan.RequestPayload = payload
	if err := json.Unmarshal(items, &plan.Items); err != nil {
		return nil, fmt.Errorf("store: unmarshal plan items: %w", err)
	}
	if result.Valid {
		var summary ExecutionSummary
		if err := json.Unmarshal([]byte(result.String), &summary); err != nil {
			return nil, fmt.Errorf("store: unmarshal plan result: %w", err)
		}
		plan.Result = &summary
	}
	if executedBy.Valid {
		plan.ExecutedBy = &executedBy.String
	}
	if executedAt.Valid {
		t := executedAt.Time
		plan.ExecutedAt = &t
	}
	return &plan, nil
}

// RemoveFileFunc deletes the backing file of one plan item. A nil func
// skips file removal and only drops database rows.
type RemoveFileFunc func(item PlanItem) error

// Execute runs a plan at most once. The plan row is locked for the whole
// execution, so concurrent calls serialize; whichever call finds the plan
// already executed gets the stored summary back with idempotent=true.
// Unresolvable items are skipped, per-item failures are recorded without
// failing the plan as a whole.
func (s *PlanStore) Execute(ctx context.Context, planID, executedBy string, removeFile RemoveFileFunc) (*ExecutionSummary, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("store: begin execute: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, "SELECT "+planColumns+" FROM delete_plans WHERE plan_id = $1 FOR UPDATE", planID)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrPlanNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: load plan: %w", err)
	}

	if plan.Executed {
		summary := plan.Result
		if summary == nil {
			summary = &ExecutionSummary{}
		}
		return summary, true, nil
	}

	summary := &ExecutionSummary{}
	for _, item := range plan.Items {
		if !item.Resolvable {
			summary.SkippedItems++
			continue
		}
		if removeFile != nil && item.Path != "" {
			if err := removeFile(item); err != nil {
				summary.FailedItems++
				summary.Failures = append(summary.Failures, ItemFailure{ItemID: item.ItemID, Reason: err.Error()})
				continue
			}
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM emby_media_items WHERE emby_id = $1", item.ItemID)
		if err != nil {
			return nil, false, fmt.Errorf("store: delete media row: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			summary.SkippedItems++
			continue
		}
		summary.ExecutedItems++
	}
	summary.Success = summary.FailedItems == 0

	status := PlanStatusExecuted
	if summary.ExecutedItems == 0 && summary.FailedItems > 0 {
		status = PlanStatusFailed
	}
	result, err := json.Marshal(summary)
	if err != nil {
		return nil, false, fmt.Errorf("store: marshal summary: %w", err)
	}
	now := s.now().UTC()
	_, err = tx.ExecContext(ctx, `
UPDATE delete_plans SET executed = TRUE, status = $2, result = $3, executed_by = $4, executed_at = $5, updated_at = $5
WHERE plan_id = $1`,
		planID, status, result, executedBy, now)
	if err != nil {
		return nil, false, fmt.Errorf("store: finalize plan: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("store: commit execute: %w", err)
	}
	return summary, false, nil
}
