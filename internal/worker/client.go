package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/docmind/docmind/internal/config"
	"github.com/docmind/docmind/internal/metrics"
	"github.com/docmind/docmind/internal/models"
	"github.com/docmind/docmind/internal/worker/tasks"
)

var ErrRunNotFound = errors.New("run not found")

// RunState is the externally visible state of a workflow run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunRetrying  RunState = "retrying"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// Terminal reports whether the run will not change state again.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

type RunStatus struct {
	RunID   string          `json:"run_id"`
	Type    string          `json:"type"`
	State   RunState        `json:"state"`
	Retried int             `json:"retried"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type inspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	Close() error
}

// Client sends trigger events to the worker queue and reports run status.
type Client struct {
	enqueuer  enqueuer
	inspector inspector
	cfg       config.WorkerConfig
	poll      time.Duration
}

func NewClient(redisCfg config.RedisConfig, workerCfg config.WorkerConfig) *Client {
	opt := RedisOpt(redisCfg)
	return &Client{
		enqueuer:  asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		cfg:       workerCfg,
		poll:      500 * time.Millisecond,
	}
}

func (c *Client) options() []asynq.Option {
	return []asynq.Option{
		asynq.Queue(tasks.QueueRAG),
		asynq.MaxRetry(c.cfg.MaxRetry),
		asynq.Timeout(c.cfg.Timeout()),
		asynq.Retention(c.cfg.Retention()),
	}
}

// EnqueueIngest queues an ingest run and returns its run id.
func (c *Client) EnqueueIngest(ctx context.Context, event models.IngestEvent) (string, error) {
	task, err := tasks.NewIngestTask(event, c.options()...)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task)
}

// EnqueueQuery queues a query run and returns its run id.
func (c *Client) EnqueueQuery(ctx context.Context, event models.QueryEvent) (string, error) {
	task, err := tasks.NewQueryTask(event, c.options()...)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) (string, error) {
	info, err := c.enqueuer.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("could not enqueue %s task: %w", task.Type(), err)
	}
	metrics.TasksEnqueuedTotal.WithLabelValues(task.Type()).Inc()
	log.Debug().Str("type", task.Type()).Str("run_id", info.ID).Msg("Task enqueued")
	return info.ID, nil
}

// Status looks up a run by id.
func (c *Client) Status(_ context.Context, runID string) (RunStatus, error) {
	info, err := c.inspector.GetTaskInfo(tasks.QueueRAG, runID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return RunStatus{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return RunStatus{}, fmt.Errorf("failed to inspect run %s: %w", runID, err)
	}
	return statusFromInfo(info), nil
}

// WaitForResult polls a run until it reaches a terminal state or wait elapses. On
// timeout the last observed status is returned without error.
func (c *Client) WaitForResult(ctx context.Context, runID string, wait time.Duration) (RunStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		status, err := c.Status(ctx, runID)
		if err != nil {
			return RunStatus{}, err
		}
		if status.State.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, nil
		case <-ticker.C:
		}
	}
}

func (c *Client) Close() error {
	return errors.Join(c.enqueuer.Close(), c.inspector.Close())
}

func statusFromInfo(info *asynq.TaskInfo) RunStatus {
	status := RunStatus{
		RunID:   info.ID,
		Type:    info.Type,
		Retried: info.Retried,
		Error:   info.LastErr,
	}
	switch info.State {
	case asynq.TaskStateActive:
		status.State = RunRunning
	case asynq.TaskStateRetry:
		status.State = RunRetrying
	case asynq.TaskStateCompleted:
		status.State = RunCompleted
		status.Result = json.RawMessage(info.Result)
		status.Error = ""
	case asynq.TaskStateArchived:
		status.State = RunFailed
	default:
		status.State = RunPending
	}
	return status
}
