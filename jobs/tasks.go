package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueEvents carries relayed ledger events.
	QueueEvents = "events"

	// TaskLedgerIntegrity replays balances and the digest chain and flags faults.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskLedgerEvent delivers one ledger domain event.
	TaskLedgerEvent = "ledger:event"
	// TaskReconcileMatch runs an automatic reconciliation matching pass.
	TaskReconcileMatch = "ledger:reconcile:match"
)

// IntegrityPayload bounds the periods checked. Zero ids mean the first or last period.
type IntegrityPayload struct {
	FromPeriodID int64 `json:"from_period_id,omitempty"`
	ToPeriodID   int64 `json:"to_period_id,omitempty"`
}

// NewIntegrityTask constructs an integrity check task.
func NewIntegrityTask(payload IntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data, asynq.MaxRetry(1)), nil
}

// MatchPayload scopes a matching pass. AccountID zero matches every account.
type MatchPayload struct {
	AccountID int64 `json:"account_id,omitempty"`
}

// NewMatchTask constructs a reconciliation matching task.
func NewMatchTask(payload MatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileMatch, data), nil
}
