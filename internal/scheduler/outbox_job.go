package scheduler

import (
	"context"
	"errors"
)

// OutboxTickJobName labels the outbox tick in logs and metrics.
const OutboxTickJobName = "outbox-tick"

// Ticker is the runner surface driven by the scheduler.
type Ticker interface {
	Tick(ctx context.Context) error
}

// OutboxTickJob adapts an outbox runner to the scheduler Job interface.
type OutboxTickJob struct {
	runner Ticker
}

// NewOutboxTickJob wraps the runner's Tick.
func NewOutboxTickJob(runner Ticker) (*OutboxTickJob, error) {
	if runner == nil {
		return nil, errors.New("outbox runner required")
	}
	return &OutboxTickJob{runner: runner}, nil
}

func (j *OutboxTickJob) Name() string { return OutboxTickJobName }

func (j *OutboxTickJob) Run(ctx context.Context) error {
	return j.runner.Tick(ctx)
}
