package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmind/docmind/internal/config"
	"github.com/docmind/docmind/internal/models"
	"github.com/docmind/docmind/internal/worker/tasks"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "run-1", Type: task.Type(), Queue: tasks.QueueRAG, State: asynq.TaskStatePending}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct {
	mu     sync.Mutex
	states []*asynq.TaskInfo
	calls  int
	err    error
}

func (f *fakeInspector) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	info := f.states[min(f.calls, len(f.states)-1)]
	f.calls++
	return info, nil
}

func (f *fakeInspector) Close() error { return nil }

func newTestClient(enq *fakeEnqueuer, insp *fakeInspector) *Client {
	return &Client{enqueuer: enq, inspector: insp, cfg: config.Default().Worker, poll: time.Millisecond}
}

func TestEnqueueIngestAndQuery(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := newTestClient(enq, &fakeInspector{})

	id, err := c.EnqueueIngest(context.Background(), models.IngestEvent{PDFPath: "a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", id)

	_, err = c.EnqueueQuery(context.Background(), models.QueryEvent{Question: "q"})
	require.NoError(t, err)

	require.Len(t, enq.tasks, 2)
	assert.Equal(t, tasks.TypeIngestPDF, enq.tasks[0].Type())
	assert.Equal(t, tasks.TypeQueryPDFAI, enq.tasks[1].Type())

	var event models.QueryEvent
	require.NoError(t, json.Unmarshal(enq.tasks[1].Payload(), &event))
	assert.Equal(t, "q", event.Question)
}

func TestEnqueueError(t *testing.T) {
	c := newTestClient(&fakeEnqueuer{err: errors.New("redis down")}, &fakeInspector{})
	_, err := c.EnqueueIngest(context.Background(), models.IngestEvent{PDFPath: "a.pdf"})
	assert.ErrorContains(t, err, "redis down")
}

func TestStatusMapsTaskStates(t *testing.T) {
	cases := map[asynq.TaskState]RunState{
		asynq.TaskStatePending:   RunPending,
		asynq.TaskStateScheduled: RunPending,
		asynq.TaskStateActive:    RunRunning,
		asynq.TaskStateRetry:     RunRetrying,
		asynq.TaskStateArchived:  RunFailed,
		asynq.TaskStateCompleted: RunCompleted,
	}
	for state, want := range cases {
		c := newTestClient(&fakeEnqueuer{}, &fakeInspector{states: []*asynq.TaskInfo{{ID: "r", State: state}}})
		got, err := c.Status(context.Background(), "r")
		require.NoError(t, err)
		assert.Equal(t, want, got.State, state.String())
	}
}

func TestStatusNotFound(t *testing.T) {
	c := newTestClient(&fakeEnqueuer{}, &fakeInspector{err: asynq.ErrTaskNotFound})
	_, err := c.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestWaitReturnsCompletedResult(t *testing.T) {
	insp := &fakeInspector{states: []*asynq.TaskInfo{
		{ID: "r", State: asynq.TaskStatePending},
		{ID: "r", State: asynq.TaskStateActive},
		{ID: "r", State: asynq.TaskStateCompleted, Result: []byte(`{"answer":"42"}`)},
	}}
	c := newTestClient(&fakeEnqueuer{}, insp)

	status, err := c.WaitForResult(context.Background(), "r", time.Second)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, status.State)
	assert.JSONEq(t, `{"answer":"42"}`, string(status.Result))
}

func TestWaitTimesOutWithPendingStatus(t *testing.T) {
	insp := &fakeInspector{states: []*asynq.TaskInfo{{ID: "r", State: asynq.TaskStateActive}}}
	c := newTestClient(&fakeEnqueuer{}, insp)

	status, err := c.WaitForResult(context.Background(), "r", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, status.State)
	assert.False(t, status.State.Terminal())
}

func TestWaitReportsFailure(t *testing.T) {
	insp := &fakeInspector{states: []*asynq.TaskInfo{{ID: "r", State: asynq.TaskStateArchived, LastErr: "invalid event"}}}
	c := newTestClient(&fakeEnqueuer{}, insp)

	status, err := c.WaitForResult(context.Background(), "r", time.Second)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, status.State)
	assert.Equal(t, "invalid event", status.Error)
}
