package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rates-engine/factory"
	"github.com/warp/rates-engine/jobs"
	"github.com/warp/rates-engine/rates"
	"github.com/warp/rates-engine/rates/store"
)

var quiet = log.New(io.Discard, "", 0)

type fixture struct {
	store     *store.TxMemory
	processor *jobs.Processor
	council   rates.Council
	path      string
}

func setup(t *testing.T, rows [][]string) fixture {
	t.Helper()
	st := store.NewTxMemory()
	council := factory.Council()
	require.NoError(t, st.SaveCouncil(context.Background(), council))

	var b strings.Builder
	b.WriteString(strings.Join(factory.Header(), ",") + "\n")
	for _, row := range rows {
		b.WriteString(strings.Join(row, ",") + "\n")
	}
	path := filepath.Join(t.TempDir(), "extract.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	imp := rates.NewImporter(st, rates.Options{Atomic: true, Logger: quiet})
	return fixture{
		store:     st,
		processor: jobs.NewProcessor(st, imp, quiet),
		council:   council,
		path:      path,
	}
}

func refreshTask(t *testing.T, p jobs.RefreshPayload) *asynq.Task {
	t.Helper()
	task, err := jobs.NewRefreshTask(p)
	require.NoError(t, err)
	return task
}

func TestNewRefreshTask(t *testing.T) {
	task := refreshTask(t, jobs.RefreshPayload{CouncilID: "c1", Period: "2019", Path: "/tmp/x.csv", Header: true})

	assert.Equal(t, jobs.TypeRefresh, task.Type())
	var decoded jobs.RefreshPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, "c1", decoded.CouncilID)
	assert.True(t, decoded.Header)

	_, err := jobs.NewRefreshTask(jobs.RefreshPayload{Period: "2019"})
	assert.ErrorIs(t, err, rates.ErrCouncilRequired)
	_, err = jobs.NewRefreshTask(jobs.RefreshPayload{CouncilID: "c1"})
	assert.ErrorIs(t, err, rates.ErrPeriodRequired)
}

func TestHandleRefreshTask_ImportsExtract(t *testing.T) {
	f := setup(t, factory.Extract(3))
	ctx := context.Background()
	payload := jobs.RefreshPayload{CouncilID: string(f.council.ID), Period: "2019", Path: f.path, Header: true}

	// Twice: a retried task must land on the same state.
	for i := 0; i < 2; i++ {
		require.NoError(t, f.processor.HandleRefreshTask(ctx, refreshTask(t, payload)))
	}

	props, err := f.store.ListProperties(ctx, factory.Scope(f.council, "2019"))
	require.NoError(t, err)
	assert.Len(t, props, 3)
}

func TestHandleRefreshTask_PermanentFailuresSkipRetry(t *testing.T) {
	f := setup(t, factory.Extract(1))
	ctx := context.Background()

	inactive := factory.Council()
	inactive.Active = false
	require.NoError(t, f.store.SaveCouncil(ctx, inactive))

	cases := map[string]*asynq.Task{
		"bad payload":      asynq.NewTask(jobs.TypeRefresh, []byte("{not json")),
		"unknown council":  refreshTask(t, jobs.RefreshPayload{CouncilID: "ghost", Period: "2019", Path: f.path}),
		"inactive council": refreshTask(t, jobs.RefreshPayload{CouncilID: string(inactive.ID), Period: "2019", Path: f.path}),
		"missing file":     refreshTask(t, jobs.RefreshPayload{CouncilID: string(f.council.ID), Period: "2019", Path: "/nope/extract.csv"}),
	}
	for name, task := range cases {
		err := f.processor.HandleRefreshTask(ctx, task)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, asynq.SkipRetry, name)
	}

	err := f.processor.HandleRefreshTask(ctx, cases["unknown council"])
	assert.True(t, rates.IsNotFound(err))
}

func TestHandleRefreshTask_RemovesSpooledUpload(t *testing.T) {
	f := setup(t, factory.Extract(2))
	ctx := context.Background()
	payload := jobs.RefreshPayload{CouncilID: string(f.council.ID), Period: "2019", Path: f.path, Header: true, RemoveAfter: true}

	// GIVEN a retryable failure
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := f.processor.HandleRefreshTask(cancelled, refreshTask(t, payload))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	// THEN the upload is kept for the retry
	assert.FileExists(t, f.path)

	// WHEN the retry succeeds
	require.NoError(t, f.processor.HandleRefreshTask(ctx, refreshTask(t, payload)))

	// THEN the upload is gone
	assert.NoFileExists(t, f.path)
}

func TestHandleRefreshTask_RemovesUploadOnPermanentFailure(t *testing.T) {
	f := setup(t, factory.Extract(1))
	ctx := context.Background()

	err := f.processor.HandleRefreshTask(ctx, refreshTask(t, jobs.RefreshPayload{
		CouncilID: "ghost", Period: "2019", Path: f.path, RemoveAfter: true,
	}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.NoFileExists(t, f.path)
}

func TestHandleRefreshTask_KeepsOperatorFile(t *testing.T) {
	f := setup(t, factory.Extract(1))
	payload := jobs.RefreshPayload{CouncilID: string(f.council.ID), Period: "2019", Path: f.path, Header: true}

	require.NoError(t, f.processor.HandleRefreshTask(context.Background(), refreshTask(t, payload)))
	assert.FileExists(t, f.path)
}

// fakeClient records enqueued tasks and rejects repeated task ids.
type fakeClient struct {
	seen map[string]bool
	err  error
}

func (c *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	var p jobs.RefreshPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return nil, err
	}
	id := "refresh:" + p.CouncilID + ":" + p.Period
	if c.seen[id] {
		return nil, asynq.ErrTaskIDConflict
	}
	c.seen[id] = true
	return &asynq.TaskInfo{ID: id, Type: task.Type(), Queue: jobs.Queue}, nil
}

func TestEnqueueRefresh(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{seen: map[string]bool{}}
	payload := jobs.RefreshPayload{CouncilID: "c1", Period: "2019", Path: "/data/x.csv"}

	id, err := jobs.EnqueueRefresh(ctx, client, payload)
	require.NoError(t, err)
	assert.Equal(t, "refresh:c1:2019", id)

	_, err = jobs.EnqueueRefresh(ctx, client, payload)
	assert.ErrorIs(t, err, jobs.ErrRefreshPending)

	payload.Period = "2020"
	_, err = jobs.EnqueueRefresh(ctx, client, payload)
	assert.NoError(t, err)

	broken := &fakeClient{err: errors.New("redis down")}
	_, err = jobs.EnqueueRefresh(ctx, broken, payload)
	require.Error(t, err)
	assert.NotErrorIs(t, err, jobs.ErrRefreshPending)
}
