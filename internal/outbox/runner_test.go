package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextmed-labs/trustledger/internal/audit"
	"github.com/nextmed-labs/trustledger/internal/consents"
	"github.com/nextmed-labs/trustledger/internal/participants"
	"github.com/nextmed-labs/trustledger/internal/reeval"
	"github.com/nextmed-labs/trustledger/pkg/config"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

const startMs = int64(1_700_000_000_000)

type manualClock struct {
	mu sync.Mutex
	ms int64
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.ms)
}

func (c *manualClock) Set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.ms += d.Milliseconds()
	c.mu.Unlock()
}

type fixedRand int64

func (f fixedRand) Int63n(n int64) int64 { return int64(f) % n }

type stubReeval struct {
	mu      sync.Mutex
	allowed bool
	reason  string
	err     error
	calls   int
}

func (s *stubReeval) Evaluate(context.Context, reeval.Subject) (reeval.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return reeval.Result{}, s.err
	}
	if s.allowed {
		return reeval.Result{Allowed: true}, nil
	}
	return reeval.Result{Reason: s.reason}, nil
}

// flakyAnchorer fails the first `failures` calls.
type flakyAnchorer struct {
	failures int32
	calls    atomic.Int32
	next     Anchorer
}

func (f *flakyAnchorer) Anchor(ctx context.Context, job Job) (string, error) {
	if f.calls.Add(1) <= f.failures {
		return "", errors.New("anchor service unavailable")
	}
	return f.next.Anchor(ctx, job)
}

type harness struct {
	runner *Runner
	store  *MemoryStore
	ledger *audit.Service
	clock  *manualClock
}

type harnessOption func(*RunnerParams)

func newHarness(t *testing.T, re Reevaluator, opts ...harnessOption) *harness {
	t.Helper()
	clock := &manualClock{ms: startMs}
	ledger, err := audit.NewService(audit.ServiceParams{
		Repository: audit.NewMemoryRepository(),
		Logger:     logger.Nop(),
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	store := NewMemoryStore()
	steps := LedgerSteps{Recorder: ledger}
	params := RunnerParams{
		Config:      config.OutboxConfig{MaxAttempts: 5, BackoffBaseMS: 2000, JitterMS: 500},
		Logger:      logger.Nop(),
		Store:       store,
		Reevaluator: re,
		Anchorer:    SimulatedAnchorer{Clock: clock.Now},
		Confirmer:   steps,
		Compensator: steps,
		Clock:       clock.Now,
		Random:      fixedRand(137),
	}
	for _, opt := range opts {
		opt(&params)
	}
	runner, err := NewRunner(params)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return &harness{runner: runner, store: store, ledger: ledger, clock: clock}
}

func testPayload(tracking string) Payload {
	return Payload{
		TrackingID:  tracking,
		RequesterID: "req-1",
		ConsentID:   "cons-1",
		DataType:    "lab",
		Recipient:   "hosp-2",
		Purpose:     "treatment",
	}
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	if err := h.runner.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

func (h *harness) job(t *testing.T, id string) Job {
	t.Helper()
	job, err := h.runner.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return job
}

func (h *harness) events(t *testing.T, action string) []audit.Event {
	t.Helper()
	events, err := h.ledger.Search(context.Background(), audit.Filter{Action: action})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	return events
}

func TestEnqueueDefaults(t *testing.T) {
	h := newHarness(t, &stubReeval{allowed: true})
	job, err := h.runner.Enqueue(context.Background(), testPayload("trk-1"), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.HasPrefix(job.ID, "outbox-1700000000000-") || len(job.ID) != len("outbox-1700000000000-")+6 {
		t.Fatalf("unexpected job id %q", job.ID)
	}
	if job.Status != enums.JobStatusPending || job.StepIndex != 0 || job.Attempts != 0 {
		t.Fatalf("unexpected initial state %+v", job)
	}
	if job.MaxAttempts != 5 || job.BackoffBaseMs != 2000 || job.NextAttemptAtMs != startMs {
		t.Fatalf("unexpected defaults %+v", job)
	}
	if len(job.Steps) != 2 || job.Steps[0] != enums.SagaStepAnchor || job.Steps[1] != enums.SagaStepAuditConfirm {
		t.Fatalf("unexpected steps %v", job.Steps)
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, &stubReeval{allowed: true})
	ctx := context.Background()

	bad := testPayload("trk-1")
	bad.Purpose = "  "
	if _, err := h.runner.Enqueue(ctx, bad, EnqueueOptions{}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.runner.Enqueue(ctx, testPayload("trk-1"), EnqueueOptions{SimulateAnchor: "maybe"}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for simulation, got %v", err)
	}

	if _, err := h.runner.Enqueue(ctx, testPayload("trk-1"), EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := h.runner.Enqueue(ctx, testPayload("trk-1"), EnqueueOptions{}); !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict for second live job, got %v", err)
	}
}

func TestSingleTickSucceeds(t *testing.T) {
	h := newHarness(t, &stubReeval{allowed: true})
	job, err := h.runner.Enqueue(context.Background(), testPayload("trk-ok"), EnqueueOptions{
		SimulateAnchor: enums.SimulationOK,
		SimulateAudit:  enums.SimulationOK,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	h.tick(t)

	got := h.job(t, job.ID)
	if got.Status != enums.JobStatusSucceeded || got.StepIndex != 2 {
		t.Fatalf("expected succeeded at step 2, got %s at %d", got.Status, got.StepIndex)
	}
	wantReceipt := "anchr-trk-ok-1700000000000"
	if got.AnchorReceipt == nil || *got.AnchorReceipt != wantReceipt {
		t.Fatalf("unexpected receipt %v", got.AnchorReceipt)
	}
	confirms := h.events(t, audit.ActionAnchorConfirm)
	if len(confirms) != 1 {
		t.Fatalf("expected one anchor.confirm event, got %d", len(confirms))
	}
	e := confirms[0]
	if e.TargetID != "trk-ok" || e.TargetType != enums.AuditTargetRequest || e.ActorRole != enums.RoleSystem || e.Detail["receipt"] != wantReceipt {
		t.Fatalf("unexpected confirm event %+v", e)
	}

	h.tick(t)
	if n := len(h.events(t, audit.ActionAnchorConfirm)); n != 1 {
		t.Fatalf("succeeded job must not run again, got %d confirms", n)
	}
}

func TestAnchorFailuresBackOffThenHold(t *testing.T) {
	re := &stubReeval{allowed: true}
	h := newHarness(t, re)
	job, err := h.runner.Enqueue(context.Background(), testPayload("trk-fail"), EnqueueOptions{SimulateAnchor: enums.SimulationFail})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	want := []enums.JobStatus{
		enums.JobStatusRetrying,
		enums.JobStatusRetrying,
		enums.JobStatusRetrying,
		enums.JobStatusRetrying,
		enums.JobStatusOnHold,
	}
	for i, status := range want {
		h.tick(t)
		got := h.job(t, job.ID)
		attempts := i + 1
		if got.Status != status || got.Attempts != attempts {
			t.Fatalf("tick %d: expected %s with %d attempts, got %s with %d", attempts, status, attempts, got.Status, got.Attempts)
		}
		if len(got.Errors) != attempts || got.Errors[i].Message != ErrMsgAnchorSimulated || got.Errors[i].Step != enums.SagaStepAnchor {
			t.Fatalf("tick %d: unexpected errors %+v", attempts, got.Errors)
		}
		if got.AnchorReceipt != nil || got.StepIndex != 0 {
			t.Fatalf("tick %d: cursor must not move on failure", attempts)
		}
		if status != enums.JobStatusRetrying {
			continue
		}
		delay := got.NextAttemptAtMs - got.UpdatedAtMs
		floor := int64(2000) << uint(attempts)
		if delay < floor || delay >= floor+500 {
			t.Fatalf("tick %d: delay %d outside [%d,%d)", attempts, delay, floor, floor+500)
		}

		// Not yet due: nothing happens.
		h.clock.Set(got.NextAttemptAtMs - 1)
		h.tick(t)
		if again := h.job(t, job.ID); again.Attempts != attempts {
			t.Fatalf("tick %d: job ran before it was due", attempts)
		}
		h.clock.Set(got.NextAttemptAtMs)
	}

	if re.calls != 4 {
		t.Fatalf("expected re-evaluation before each retry, got %d calls", re.calls)
	}

	h.clock.Advance(time.Hour)
	h.tick(t)
	if got := h.job(t, job.ID); got.Attempts != 5 || got.Status != enums.JobStatusOnHold {
		t.Fatalf("on_hold job must wait for requeue, got %+v", got)
	}
}

func TestAuditConfirmFailureCompensates(t *testing.T) {
	h := newHarness(t, &stubReeval{allowed: true})
	job, err := h.runner.Enqueue(context.Background(), testPayload("trk-comp"), EnqueueOptions{SimulateAudit: enums.SimulationFail})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	h.tick(t)

	got := h.job(t, job.ID)
	if got.Status != enums.JobStatusCompensated {
		t.Fatalf("expected compensated, got %s", got.Status)
	}
	if got.AnchorReceipt != nil {
		t.Fatalf("receipt must be cleared after compensation, got %q", *got.AnchorReceipt)
	}
	if got.StepIndex != 1 || got.Attempts != 0 {
		t.Fatalf("unexpected cursor %d / attempts %d", got.StepIndex, got.Attempts)
	}
	if len(got.Errors) != 1 || got.Errors[0].Step != enums.SagaStepAuditConfirm || got.Errors[0].Message != ErrMsgAuditSimulated {
		t.Fatalf("unexpected errors %+v", got.Errors)
	}
	if n := len(h.events(t, audit.ActionAnchorConfirm)); n != 0 {
		t.Fatalf("expected no confirm events, got %d", n)
	}
	rollbacks := h.events(t, audit.ActionAnchorRollback)
	if len(rollbacks) != 1 || rollbacks[0].Detail["receipt"] != "anchr-trk-comp-1700000000000" {
		t.Fatalf("unexpected rollback events %+v", rollbacks)
	}
}

type failingCompensator struct{}

func (failingCompensator) Compensate(context.Context, Job) error { return errors.New("ledger offline") }

func TestCompensationFailureIsTerminal(t *testing.T) {
	h := newHarness(t, &stubReeval{allowed: true}, func(p *RunnerParams) { p.Compensator = failingCompensator{} })
	job, err := h.runner.Enqueue(context.Background(), testPayload("trk-x"), EnqueueOptions{SimulateAudit: enums.SimulationFail})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	h.tick(t)

	got := h.job(t, job.ID)
	if got.Status != enums.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.AnchorReceipt == nil {
		t.Fatalf("receipt must survive a failed compensation")
	}
	if len(got.Errors) != 2 || !strings.Contains(got.Errors[1].Message, "ledger offline") {
		t.Fatalf("expected compensation failure on the error log, got %+v", got.Errors)
	}
	if _, err := h.runner.Retry(context.Background(), job.ID); !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict retrying a terminal job, got %v", err)
	}
}

func TestRequeueHonoursParticipantState(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{ms: startMs}
	people, err := participants.NewService(nil, logger.Nop(), clock.Now)
	if err != nil {
		t.Fatal(err)
	}
	grants, err := consents.NewService(nil, logger.Nop(), clock.Now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := people.Register(ctx, participants.RegisterInput{ID: "req-1", Name: "Requester"}, enums.RoleOperator); err != nil {
		t.Fatal(err)
	}
	if _, err := grants.Register(ctx, consents.RegisterInput{ID: "cons-1", Terms: consents.Terms{
		DataTypes:   []string{"lab"},
		Recipients:  []string{"hosp-2"},
		Purposes:    []string{"treatment"},
		ValidFromMs: startMs,
		ValidToMs:   startMs + int64(24*time.Hour/time.Millisecond),
	}}, enums.RoleParticipant); err != nil {
		t.Fatal(err)
	}
	predicate, err := reeval.NewPredicate(people, grants, clock.Now)
	if err != nil {
		t.Fatal(err)
	}

	anchorer := &flakyAnchorer{failures: 1, next: SimulatedAnchorer{Clock: clock.Now}}
	h := newHarness(t, predicate, func(p *RunnerParams) {
		p.Anchorer = anchorer
		p.Clock = clock.Now
	})
	h.clock = clock

	job, err := h.runner.Enqueue(ctx, testPayload("trk-hold"), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	h.tick(t)
	if got := h.job(t, job.ID); got.Status != enums.JobStatusRetrying {
		t.Fatalf("expected retrying after first failure, got %s", got.Status)
	}

	if _, err := people.Suspend(ctx, "req-1", "investigation", enums.RoleOperator); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	h.tick(t)
	parked := h.job(t, job.ID)
	if parked.Status != enums.JobStatusOnHold || parked.Attempts != 1 {
		t.Fatalf("expected on_hold without consuming an attempt, got %s/%d", parked.Status, parked.Attempts)
	}

	held, err := h.runner.Requeue(ctx, job.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	details, _ := pkgerrors.As(err).Details().(map[string]any)
	if details["reason"] != ReasonReevaluationFailed || details["evaluation"] != reeval.ReasonParticipantInactive {
		t.Fatalf("unexpected conflict details %+v", details)
	}
	if held.Status != enums.JobStatusOnHold {
		t.Fatalf("expected job returned on hold, got %s", held.Status)
	}

	if _, err := people.Resume(ctx, "req-1", "cleared", enums.RoleOperator); err != nil {
		t.Fatal(err)
	}
	done, err := h.runner.Requeue(ctx, job.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if done.Status != enums.JobStatusSucceeded || done.StepIndex != 2 {
		t.Fatalf("expected succeeded after requeue, got %s at %d", done.Status, done.StepIndex)
	}
	if len(done.Errors) != 1 {
		t.Fatalf("error log must be append-only, got %+v", done.Errors)
	}
}

func TestRetryRunsTickSynchronously(t *testing.T) {
	re := &stubReeval{allowed: true}
	h := newHarness(t, re)
	ctx := context.Background()

	if _, err := h.runner.Retry(ctx, "outbox-missing"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	job, err := h.runner.Enqueue(ctx, testPayload("trk-r"), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := h.runner.Retry(ctx, job.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != enums.JobStatusSucceeded {
		t.Fatalf("expected retry to observe the attempt, got %s", got.Status)
	}
	if re.calls != 1 {
		t.Fatalf("retry goes through re-evaluation, got %d calls", re.calls)
	}
}

func TestRetryParksWhenReevaluationFails(t *testing.T) {
	re := &stubReeval{reason: consents.ReasonOutOfValidity}
	h := newHarness(t, re)
	job, err := h.runner.Enqueue(context.Background(), testPayload("trk-p"), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := h.runner.Retry(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != enums.JobStatusOnHold || got.Attempts != 0 {
		t.Fatalf("expected on_hold with no attempts, got %s/%d", got.Status, got.Attempts)
	}
}

type blockingAnchorer struct{}

func (blockingAnchorer) Anchor(ctx context.Context, _ Job) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestStepTimeoutCountsAsFailure(t *testing.T) {
	h := newHarness(t, &stubReeval{allowed: true}, func(p *RunnerParams) {
		p.Anchorer = blockingAnchorer{}
		p.Config.StepTimeout = 20 * time.Millisecond
	})
	job, err := h.runner.Enqueue(context.Background(), testPayload("trk-slow"), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	h.tick(t)

	got := h.job(t, job.ID)
	if got.Status != enums.JobStatusRetrying || got.Attempts != 1 {
		t.Fatalf("expected retrying after timeout, got %s/%d", got.Status, got.Attempts)
	}
	if !strings.HasPrefix(got.Errors[0].Message, ErrMsgStepTimeout) {
		t.Fatalf("expected timeout message, got %q", got.Errors[0].Message)
	}
}

// saveFailingStore fails every Save for one job id.
type saveFailingStore struct {
	*MemoryStore
	failID string
}

func (s saveFailingStore) Save(ctx context.Context, job Job) error {
	if job.ID == s.failID {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, job)
}

func TestTickIsolatesJobFailures(t *testing.T) {
	store := &saveFailingStore{MemoryStore: NewMemoryStore()}
	h := newHarness(t, &stubReeval{allowed: true}, func(p *RunnerParams) { p.Store = store })
	ctx := context.Background()

	bad, err := h.runner.Enqueue(ctx, testPayload("trk-bad"), EnqueueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	good, err := h.runner.Enqueue(ctx, testPayload("trk-good"), EnqueueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	store.failID = bad.ID

	err = h.runner.Tick(ctx)
	if err == nil || !strings.Contains(err.Error(), bad.ID) {
		t.Fatalf("expected tick error naming %s, got %v", bad.ID, err)
	}
	if got := h.job(t, good.ID); got.Status != enums.JobStatusSucceeded {
		t.Fatalf("other jobs must still run, got %s", got.Status)
	}
}

type countingAnchorer struct {
	calls atomic.Int32
}

func (c *countingAnchorer) Anchor(_ context.Context, job Job) (string, error) {
	c.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return "anchr-" + job.Payload.TrackingID, nil
}

func TestConcurrentTicksRunEachStepOnce(t *testing.T) {
	anchorer := &countingAnchorer{}
	h := newHarness(t, &stubReeval{allowed: true}, func(p *RunnerParams) { p.Anchorer = anchorer })
	ctx := context.Background()
	for _, id := range []string{"trk-a", "trk-b", "trk-c"} {
		if _, err := h.runner.Enqueue(ctx, testPayload(id), EnqueueOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.runner.Tick(ctx)
		}()
	}
	wg.Wait()

	if n := anchorer.calls.Load(); n != 3 {
		t.Fatalf("expected exactly one anchor per job, got %d", n)
	}
	if n := len(h.events(t, audit.ActionAnchorConfirm)); n != 3 {
		t.Fatalf("expected three confirms, got %d", n)
	}
	stats, err := h.runner.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.ByStatus[string(enums.JobStatusSucceeded)] != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestNewRunnerRequiresDependencies(t *testing.T) {
	if _, err := NewRunner(RunnerParams{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

// staleReadStore hands out a job copy read before hook ran, as a second process would see it.
type staleReadStore struct {
	*MemoryStore
	once sync.Once
	hook func()
}

func (s *staleReadStore) Get(ctx context.Context, id string) (Job, error) {
	job, err := s.MemoryStore.Get(ctx, id)
	s.once.Do(s.hook)
	return job, err
}

type delegatingCountingAnchorer struct {
	calls atomic.Int32
	next  Anchorer
}

func (c *delegatingCountingAnchorer) Anchor(ctx context.Context, job Job) (string, error) {
	c.calls.Add(1)
	return c.next.Anchor(ctx, job)
}

func TestRunnersSharingStoreProcessJobOnce(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()
	other := newHarness(t, &stubReeval{allowed: true}, func(p *RunnerParams) { p.Store = shared })

	stale := &staleReadStore{MemoryStore: shared}
	slow := &delegatingCountingAnchorer{next: SimulatedAnchorer{Clock: other.clock.Now}}
	h := newHarness(t, &stubReeval{allowed: true}, func(p *RunnerParams) {
		p.Store = stale
		p.Anchorer = slow
	})

	job, err := other.runner.Enqueue(ctx, testPayload("trk-shared"), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stale.hook = func() { other.tick(t) }

	h.tick(t)

	if n := slow.calls.Load(); n != 0 {
		t.Fatalf("runner holding a stale copy must not anchor, got %d calls", n)
	}
	got := other.job(t, job.ID)
	if got.Status != enums.JobStatusSucceeded {
		t.Fatalf("expected the first runner to finish the job, got %s", got.Status)
	}
	if n := len(other.events(t, audit.ActionAnchorConfirm)); n != 1 {
		t.Fatalf("expected one confirm event, got %d", n)
	}
}

func TestRetryRejectsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()
	other := newHarness(t, &stubReeval{allowed: true}, func(p *RunnerParams) {
		p.Store = shared
		p.Anchorer = &flakyAnchorer{failures: 1, next: SimulatedAnchorer{Clock: time.Now}}
	})
	stale := &staleReadStore{MemoryStore: shared}
	h := newHarness(t, &stubReeval{allowed: true}, func(p *RunnerParams) { p.Store = stale })

	job, err := other.runner.Enqueue(ctx, testPayload("trk-op"), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stale.hook = func() { other.tick(t) }

	if _, err := h.runner.Retry(ctx, job.ID); !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict for a stale operator write, got %v", err)
	}
	got := other.job(t, job.ID)
	if got.Status != enums.JobStatusRetrying || got.Attempts != 1 {
		t.Fatalf("concurrent tick result must survive, got %s/%d", got.Status, got.Attempts)
	}
}

func TestTickLeavesJobWhenReevaluationUnavailable(t *testing.T) {
	re := &stubReeval{allowed: true}
	h := newHarness(t, re, func(p *RunnerParams) {
		p.Anchorer = &flakyAnchorer{failures: 1, next: SimulatedAnchorer{Clock: time.Now}}
	})
	ctx := context.Background()
	job, err := h.runner.Enqueue(ctx, testPayload("trk-db"), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	h.tick(t)

	re.mu.Lock()
	re.err = errors.New("participants table unavailable")
	re.mu.Unlock()
	h.clock.Advance(time.Minute)
	if err := h.runner.Tick(ctx); err == nil {
		t.Fatalf("expected tick to report the read failure")
	}
	if got := h.job(t, job.ID); got.Status != enums.JobStatusRetrying || got.Attempts != 1 {
		t.Fatalf("job must stay retrying untouched, got %s/%d", got.Status, got.Attempts)
	}

	if _, err := h.runner.Requeue(ctx, job.ID); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error from requeue, got %v", err)
	}
}
