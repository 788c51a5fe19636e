/*
Package jobs runs scope refreshes in the background on asynq (Redis).

PURPOSE:
  Large extracts take minutes to import. The API and CLI can enqueue a
  refresh instead of running it inline; a worker process picks it up.

TASKS:
  rates:refresh  Reset + import one (council, period) from an extract file.

DEDUPLICATION:
  Every refresh task carries TaskID "refresh:<council>:<period>", so a
  second enqueue for the same scope while one is pending is rejected with
  ErrRefreshPending. Together with the importer's ScopeLocker and a worker
  concurrency of 1 this keeps a single writer per scope.

RETRIES:
  Bad payloads, unknown or inactive councils and unreadable files are
  permanent and return asynq.SkipRetry. Storage failures are retried; the
  refresh resets first, so a retry never double-applies a partial batch.
  Uploads spooled by the API (RemoveAfter) are deleted once the task
  succeeds or fails permanently, and kept while retries remain.

SEE ALSO:
  - cmd/worker: Worker process
  - rates/importer.go: Refresh
*/
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/warp/rates-engine/rates"
)

const (
	TypeRefresh = "rates:refresh"

	// Queue is the asynq queue refreshes run on.
	Queue = "rates"

	maxRetry = 3
)

// ErrRefreshPending is returned when a refresh for the scope is already queued.
var ErrRefreshPending = errors.New("refresh already pending for scope")

// RefreshPayload is the data a refresh job needs.
type RefreshPayload struct {
	CouncilID string `json:"council_id"`
	Period    string `json:"period"`
	Path      string `json:"path"`
	Header    bool   `json:"header"`

	// RemoveAfter marks Path as a spooled upload the worker deletes once the
	// task succeeds or fails permanently.
	RemoveAfter bool `json:"remove_after"`
}

func taskID(councilID, period string) string {
	return fmt.Sprintf("refresh:%s:%s", councilID, period)
}

// NewRefreshTask creates a refresh task for asynq.
func NewRefreshTask(payload RefreshPayload) (*asynq.Task, error) {
	if payload.CouncilID == "" {
		return nil, rates.ErrCouncilRequired
	}
	if payload.Period == "" {
		return nil, rates.ErrPeriodRequired
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRefresh, payloadBytes,
		asynq.TaskID(taskID(payload.CouncilID, payload.Period)),
		asynq.Queue(Queue),
		asynq.MaxRetry(maxRetry),
	), nil
}

// Enqueuer is the slice of *asynq.Client the producers need.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueRefresh queues a refresh and returns the asynq task id.
func EnqueueRefresh(ctx context.Context, client Enqueuer, payload RefreshPayload) (string, error) {
	task, err := NewRefreshTask(payload)
	if err != nil {
		return "", err
	}
	info, err := client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return "", fmt.Errorf("%w: %s/%s", ErrRefreshPending, payload.CouncilID, payload.Period)
	}
	if err != nil {
		return "", fmt.Errorf("enqueue refresh: %w", err)
	}
	return info.ID, nil
}
