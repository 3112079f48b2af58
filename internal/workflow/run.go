// Package workflow runs the ingest and query pipelines as sequences of named,
// memoized steps. A step that completed in an earlier attempt of the same run
// is not executed again; its recorded result is returned instead.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docmind/docmind/internal/metrics"
)

// ErrInvalidEvent marks a trigger payload that can never succeed.
var ErrInvalidEvent = errors.New("invalid event")

// Run is one execution of a workflow. Its ID must stay the same across retries.
type Run struct {
	ID       string
	Workflow string
	memo     Memo
}

func NewRun(workflow, id string, memo Memo) *Run {
	return &Run{ID: id, Workflow: workflow, memo: memo}
}

// Step executes fn once per run and step id. The result is stored as JSON in
// the run's memo; later calls with the same step id decode it instead of
// calling fn.
func Step[T any](ctx context.Context, run *Run, stepID string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	logger := log.With().Str("workflow", run.Workflow).Str("run_id", run.ID).Str("step", stepID).Logger()

	raw, ok, err := run.memo.Get(ctx, run.ID, stepID)
	if err != nil {
		return out, err
	}
	if ok {
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("failed to decode memoized step %s: %w", stepID, err)
		}
		metrics.StepExecutionsTotal.WithLabelValues(run.Workflow, stepID, "memoized").Inc()
		logger.Debug().Msg("Step result reused")
		return out, nil
	}

	start := time.Now()
	out, err = fn(ctx)
	if err != nil {
		metrics.StepExecutionsTotal.WithLabelValues(run.Workflow, stepID, "failed").Inc()
		logger.Error().Err(err).Msg("Step failed")
		var zero T
		return zero, fmt.Errorf("step %s: %w", stepID, err)
	}
	metrics.StepDuration.WithLabelValues(run.Workflow, stepID).Observe(time.Since(start).Seconds())
	metrics.StepExecutionsTotal.WithLabelValues(run.Workflow, stepID, "executed").Inc()

	raw, err = json.Marshal(out)
	if err != nil {
		return out, fmt.Errorf("failed to encode step %s result: %w", stepID, err)
	}
	if err := run.memo.Put(ctx, run.ID, stepID, raw); err != nil {
		return out, err
	}
	logger.Debug().Dur("took", time.Since(start)).Msg("Step completed")
	return out, nil
}
