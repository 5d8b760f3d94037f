package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/nextmed-labs/trustledger/internal/reeval"
	"github.com/nextmed-labs/trustledger/pkg/config"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
	"github.com/nextmed-labs/trustledger/pkg/idgen"
	"github.com/nextmed-labs/trustledger/pkg/logger"
	"github.com/nextmed-labs/trustledger/pkg/metrics"
)

const (
	defaultMaxAttempts   = 5
	defaultBackoffBaseMs = 2000
	defaultJitterMs      = 500

	// ReasonReevaluationFailed is the conflict reason returned by Requeue.
	ReasonReevaluationFailed = "RE_EVALUATION_FAILED"
)

// Reevaluator re-checks authorization state before parked work resumes.
type Reevaluator interface {
	Evaluate(ctx context.Context, subject reeval.Subject) (reeval.Result, error)
}

// RunnerParams wires the saga runner.
type RunnerParams struct {
	Config      config.OutboxConfig
	Logger      *logger.Logger
	Store       Store
	Reevaluator Reevaluator
	Anchorer    Anchorer
	Confirmer   Confirmer
	Compensator Compensator
	Metrics     *metrics.OutboxMetrics
	Clock       func() time.Time
	Random      idgen.Random
}

// Runner owns every job state transition.
type Runner struct {
	logg        *logger.Logger
	store       Store
	reeval      Reevaluator
	anchorer    Anchorer
	confirmer   Confirmer
	compensator Compensator
	metrics     *metrics.OutboxMetrics
	now         func() time.Time
	rnd         idgen.Random

	maxAttempts   int
	backoffBaseMs int64
	jitterMs      int64
	stepTimeout   time.Duration

	tickMu    sync.Mutex
	enqueueMu sync.Mutex
	jobLocks  *keyedMutex
}

// NewRunner validates the dependencies and applies config defaults.
func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Store == nil {
		return nil, errors.New("outbox store is required")
	}
	if params.Reevaluator == nil {
		return nil, errors.New("reevaluator is required")
	}
	if params.Anchorer == nil {
		return nil, errors.New("anchorer is required")
	}
	if params.Confirmer == nil {
		return nil, errors.New("confirmer is required")
	}
	if params.Compensator == nil {
		return nil, errors.New("compensator is required")
	}

	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	rnd := params.Random
	if rnd == nil {
		rnd = idgen.Locked()
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	base := params.Config.BackoffBaseMS
	if base <= 0 {
		base = defaultBackoffBaseMs
	}
	jitter := params.Config.JitterMS
	if jitter < 0 {
		jitter = defaultJitterMs
	}

	return &Runner{
		logg:          params.Logger,
		store:         params.Store,
		reeval:        params.Reevaluator,
		anchorer:      params.Anchorer,
		confirmer:     params.Confirmer,
		compensator:   params.Compensator,
		metrics:       params.Metrics,
		now:           clock,
		rnd:           rnd,
		maxAttempts:   maxAttempts,
		backoffBaseMs: base,
		jitterMs:      jitter,
		stepTimeout:   params.Config.StepTimeout,
		jobLocks:      newKeyedMutex(),
	}, nil
}

// Enqueue creates a pending job. A tracking id may own at most one non-terminal job.
func (r *Runner) Enqueue(ctx context.Context, payload Payload, opts EnqueueOptions) (Job, error) {
	if err := payload.Validate(); err != nil {
		return Job{}, err
	}
	for _, sim := range []enums.Simulation{opts.SimulateAnchor, opts.SimulateAudit} {
		if _, err := enums.ParseSimulation(string(sim)); err != nil {
			return Job{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid simulation option")
		}
	}

	r.enqueueMu.Lock()
	defer r.enqueueMu.Unlock()

	live, err := r.store.FindLive(ctx, payload.TrackingID)
	if err != nil {
		return Job{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking live jobs")
	}
	if live != nil {
		return Job{}, pkgerrors.New(pkgerrors.CodeConflict, "tracking id already has a live job").
			WithDetails(map[string]any{"jobId": live.ID})
	}

	now := r.now().UnixMilli()
	job := Job{
		ID:              idgen.New("outbox", now, r.rnd),
		Payload:         payload,
		Status:          enums.JobStatusPending,
		Steps:           enums.DefaultSagaSteps(),
		MaxAttempts:     r.maxAttempts,
		NextAttemptAtMs: now,
		BackoffBaseMs:   r.backoffBaseMs,
		SimulateAnchor:  opts.SimulateAnchor,
		SimulateAudit:   opts.SimulateAudit,
		Errors:          []StepError{},
		CreatedAtMs:     now,
		UpdatedAtMs:     now,
	}
	if err := r.store.Create(ctx, job); err != nil {
		return Job{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating outbox job")
	}
	r.metrics.ObserveTransition(string(job.Status))
	r.logg.Info(r.jobContext(ctx, job), "outbox.job.enqueued")
	return job, nil
}

// Tick runs every due job once. Ticks never overlap. Per-job failures are logged, combined
// and returned without stopping the remaining jobs.
func (r *Runner) Tick(ctx context.Context) error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	started := time.Now()
	defer func() { r.metrics.ObserveTick(time.Since(started)) }()

	nowMs := r.now().UnixMilli()
	due, err := r.store.Due(ctx, nowMs)
	if err != nil {
		return fmt.Errorf("listing due outbox jobs: %w", err)
	}

	var errs error
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if err := r.runDue(ctx, candidate.ID, nowMs); err != nil {
			r.logg.Error(r.logg.WithJobID(ctx, candidate.ID), "outbox.job.tick_failed", err)
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", candidate.ID, err))
		}
	}
	return errs
}

func (r *Runner) runDue(ctx context.Context, id string, nowMs int64) error {
	release := r.jobLocks.Lock(id)
	defer release()

	job, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Due(nowMs) {
		return nil
	}

	if job.Status == enums.JobStatusRetrying || job.Status == enums.JobStatusOnHold {
		res, err := r.reeval.Evaluate(ctx, job.Payload.Subject())
		if err != nil {
			return fmt.Errorf("re-evaluating: %w", err)
		}
		if !res.Allowed {
			r.setStatus(&job, enums.JobStatusOnHold)
			job.UpdatedAtMs = r.now().UnixMilli()
			r.logg.Warn(r.logg.WithField(r.jobContext(ctx, job), "reason", res.Reason), "outbox.job.reevaluation_failed")
			return r.ignoreLostRace(ctx, job, r.save(ctx, &job))
		}
	}
	return r.ignoreLostRace(ctx, job, r.processJob(ctx, &job))
}

// ignoreLostRace drops ErrJobChanged: another runner wrote the job first and owns it now.
func (r *Runner) ignoreLostRace(ctx context.Context, job Job, err error) error {
	if errors.Is(err, ErrJobChanged) {
		r.logg.Info(r.jobContext(ctx, job), "outbox.job.claimed_elsewhere")
		return nil
	}
	return err
}

// save writes job and advances its in-memory revision to match the store.
func (r *Runner) save(ctx context.Context, job *Job) error {
	if err := r.store.Save(ctx, *job); err != nil {
		return err
	}
	job.Revision++
	return nil
}

// processJob advances the cursor until a step fails or every step succeeded. The job is
// saved after each state change, so step N+1 never starts before step N is recorded.
func (r *Runner) processJob(ctx context.Context, job *Job) error {
	r.setStatus(job, enums.JobStatusProcessing)
	job.UpdatedAtMs = r.now().UnixMilli()
	if err := r.save(ctx, job); err != nil {
		return err
	}

	for {
		step, ok := job.CurrentStep()
		if !ok {
			break
		}
		switch step {
		case enums.SagaStepAnchor:
			snapshot := *job
			receipt, err := runStep(ctx, r.stepTimeout, func(stepCtx context.Context) (string, error) {
				return r.anchorer.Anchor(stepCtx, snapshot)
			})
			if err != nil {
				r.metrics.ObserveStep(string(step), "error")
				return r.failAnchor(ctx, job, err)
			}
			r.metrics.ObserveStep(string(step), "ok")
			job.AnchorReceipt = &receipt
		case enums.SagaStepAuditConfirm:
			snapshot := cloneJob(*job)
			_, err := runStep(ctx, r.stepTimeout, func(stepCtx context.Context) (struct{}, error) {
				return struct{}{}, r.confirmer.Confirm(stepCtx, snapshot)
			})
			if err != nil {
				r.metrics.ObserveStep(string(step), "error")
				return r.compensate(ctx, job, err)
			}
			r.metrics.ObserveStep(string(step), "ok")
		default:
			r.appendError(job, step, fmt.Errorf("unknown saga step %q", step), ErrMsgAnchorFailed)
			r.setStatus(job, enums.JobStatusFailed)
			job.UpdatedAtMs = r.now().UnixMilli()
			return r.save(ctx, job)
		}
		job.StepIndex++
		job.UpdatedAtMs = r.now().UnixMilli()
		if err := r.save(ctx, job); err != nil {
			return err
		}
	}

	r.setStatus(job, enums.JobStatusSucceeded)
	job.UpdatedAtMs = r.now().UnixMilli()
	if err := r.save(ctx, job); err != nil {
		return err
	}
	r.logg.Info(r.jobContext(ctx, *job), "outbox.job.succeeded")
	return nil
}

func (r *Runner) failAnchor(ctx context.Context, job *Job, cause error) error {
	job.Attempts++
	r.appendError(job, enums.SagaStepAnchor, cause, ErrMsgAnchorFailed)
	now := r.now().UnixMilli()
	if job.Attempts >= job.MaxAttempts {
		r.setStatus(job, enums.JobStatusOnHold)
	} else {
		r.setStatus(job, enums.JobStatusRetrying)
		job.NextAttemptAtMs = now + backoffDelayMs(job.BackoffBaseMs, job.Attempts, r.jitterMs, r.rnd)
	}
	job.UpdatedAtMs = now
	r.logg.Warn(r.logg.WithField(r.jobContext(ctx, *job), "error", cause.Error()), "outbox.job.anchor_failed")
	return r.save(ctx, job)
}

func (r *Runner) compensate(ctx context.Context, job *Job, cause error) error {
	r.appendError(job, enums.SagaStepAuditConfirm, cause, ErrMsgAuditFailed)
	r.setStatus(job, enums.JobStatusCompensating)
	job.UpdatedAtMs = r.now().UnixMilli()
	if err := r.save(ctx, job); err != nil {
		return err
	}

	snapshot := cloneJob(*job)
	_, err := runStep(ctx, r.stepTimeout, func(stepCtx context.Context) (struct{}, error) {
		return struct{}{}, r.compensator.Compensate(stepCtx, snapshot)
	})
	if err != nil {
		r.appendError(job, enums.SagaStepAnchor, fmt.Errorf("compensation failed: %w", err), ErrMsgAnchorFailed)
		r.setStatus(job, enums.JobStatusFailed)
		r.logg.Error(r.jobContext(ctx, *job), "outbox.job.compensation_failed", err)
	} else {
		job.AnchorReceipt = nil
		r.setStatus(job, enums.JobStatusCompensated)
		r.logg.Warn(r.logg.WithField(r.jobContext(ctx, *job), "error", cause.Error()), "outbox.job.compensated")
	}
	job.UpdatedAtMs = r.now().UnixMilli()
	return r.save(ctx, job)
}

// Retry forces the job due now and runs a tick before returning the reloaded job.
func (r *Runner) Retry(ctx context.Context, id string) (Job, error) {
	release := r.jobLocks.Lock(id)
	job, err := r.loadMutable(ctx, id)
	if err != nil {
		release()
		return Job{}, err
	}
	r.arm(&job)
	err = r.save(ctx, &job)
	release()
	if err != nil {
		return Job{}, saveError(err)
	}

	r.logg.Info(r.jobContext(ctx, job), "outbox.job.retry_requested")
	r.tickAfterOperatorAction(ctx)
	return r.Get(ctx, id)
}

// Requeue re-evaluates a parked job. On failure the job stays on hold and a CONFLICT error
// is returned together with the job.
func (r *Runner) Requeue(ctx context.Context, id string) (Job, error) {
	release := r.jobLocks.Lock(id)
	job, err := r.loadMutable(ctx, id)
	if err != nil {
		release()
		return Job{}, err
	}

	res, err := r.reeval.Evaluate(ctx, job.Payload.Subject())
	if err != nil {
		release()
		return Job{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "re-evaluation unavailable")
	}
	if !res.Allowed {
		r.setStatus(&job, enums.JobStatusOnHold)
		job.UpdatedAtMs = r.now().UnixMilli()
		err := r.save(ctx, &job)
		release()
		if err != nil {
			return Job{}, saveError(err)
		}
		r.logg.Warn(r.logg.WithField(r.jobContext(ctx, job), "reason", res.Reason), "outbox.job.requeue_rejected")
		return job, pkgerrors.New(pkgerrors.CodeConflict, "re-evaluation failed").WithDetails(map[string]any{
			"reason":     ReasonReevaluationFailed,
			"evaluation": res.Reason,
			"job":        job,
		})
	}

	r.arm(&job)
	err = r.save(ctx, &job)
	release()
	if err != nil {
		return Job{}, saveError(err)
	}

	r.logg.Info(r.jobContext(ctx, job), "outbox.job.requeued")
	r.tickAfterOperatorAction(ctx)
	return r.Get(ctx, id)
}

// Get returns a job or NOT_FOUND.
func (r *Runner) Get(ctx context.Context, id string) (Job, error) {
	job, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		return Job{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("outbox job %s not found", id))
	}
	if err != nil {
		return Job{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading outbox job")
	}
	return job, nil
}

// List returns every job in creation order.
func (r *Runner) List(ctx context.Context) ([]Job, error) {
	jobs, err := r.store.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing outbox jobs")
	}
	return jobs, nil
}

// Stats counts jobs by status.
func (r *Runner) Stats(ctx context.Context) (Stats, error) {
	counts, err := r.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting outbox jobs")
	}
	out := Stats{ByStatus: make(map[string]int, len(counts))}
	for status, n := range counts {
		out.ByStatus[string(status)] = n
		out.Total += n
	}
	return out, nil
}

// loadMutable fetches a job that operator actions may still change.
func (r *Runner) loadMutable(ctx context.Context, id string) (Job, error) {
	job, err := r.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.Status.IsTerminal() {
		return Job{}, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("outbox job %s is %s", id, job.Status)).
			WithDetails(map[string]any{"status": job.Status})
	}
	return job, nil
}

func saveError(err error) error {
	if errors.Is(err, ErrJobChanged) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "outbox job changed concurrently, reload and retry")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving outbox job")
}

func (r *Runner) arm(job *Job) {
	now := r.now().UnixMilli()
	r.setStatus(job, enums.JobStatusRetrying)
	job.NextAttemptAtMs = now
	job.UpdatedAtMs = now
}

func (r *Runner) tickAfterOperatorAction(ctx context.Context) {
	if err := r.Tick(ctx); err != nil {
		r.logg.Error(ctx, "outbox.tick.operator_action_failed", err)
	}
}

func (r *Runner) setStatus(job *Job, status enums.JobStatus) {
	if job.Status == status {
		return
	}
	job.Status = status
	r.metrics.ObserveTransition(string(status))
}

func (r *Runner) appendError(job *Job, step enums.SagaStep, err error, fallback string) {
	msg := fallback
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	job.Errors = append(job.Errors, StepError{Step: step, Message: msg, TimestampMs: r.now().UnixMilli()})
}

func (r *Runner) jobContext(ctx context.Context, job Job) context.Context {
	return r.logg.WithFields(ctx, map[string]any{
		"job_id":      job.ID,
		"tracking_id": job.Payload.TrackingID,
		"status":      string(job.Status),
		"step_index":  job.StepIndex,
		"attempts":    job.Attempts,
	})
}

type stepResult[T any] struct {
	value T
	err   error
}

// runStep bounds fn by timeout when timeout > 0. A step that outlives its deadline counts
// as failed; its goroutine is abandoned.
func runStep[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan stepResult[T], 1)
	go func() {
		v, err := fn(stepCtx)
		done <- stepResult[T]{value: v, err: err}
	}()
	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return res.value, fmt.Errorf("%s: %w", ErrMsgStepTimeout, res.err)
		}
		return res.value, res.err
	case <-stepCtx.Done():
		var zero T
		return zero, fmt.Errorf("%s: %w", ErrMsgStepTimeout, stepCtx.Err())
	}
}
