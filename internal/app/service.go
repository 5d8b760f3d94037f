package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nextmed-labs/trustledger/api/controllers"
	"github.com/nextmed-labs/trustledger/api/middleware"
	"github.com/nextmed-labs/trustledger/api/routes"
	"github.com/nextmed-labs/trustledger/internal/audit"
	"github.com/nextmed-labs/trustledger/internal/consents"
	"github.com/nextmed-labs/trustledger/internal/export"
	"github.com/nextmed-labs/trustledger/internal/outbox"
	"github.com/nextmed-labs/trustledger/internal/participants"
	"github.com/nextmed-labs/trustledger/internal/reeval"
	"github.com/nextmed-labs/trustledger/internal/requests"
	"github.com/nextmed-labs/trustledger/internal/scheduler"
	"github.com/nextmed-labs/trustledger/pkg/config"
	"github.com/nextmed-labs/trustledger/pkg/db"
	"github.com/nextmed-labs/trustledger/pkg/logger"
	"github.com/nextmed-labs/trustledger/pkg/metrics"
	"github.com/nextmed-labs/trustledger/pkg/pubsub"
	"github.com/nextmed-labs/trustledger/pkg/redis"
)

// ServiceParams carries the infrastructure clients. DB, Redis and PubSub are optional;
// without DB every store is in-memory.
type ServiceParams struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client
	PubSub *pubsub.Client

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Clock      func() time.Time
}

// Service holds the wired domain services for one process.
type Service struct {
	cfg  *config.Config
	logg *logger.Logger

	Participants *participants.Service
	Consents     *consents.Service
	Ledger       *audit.Service
	Runner       *outbox.Runner
	Exports      *export.Service
	Requests     *requests.Service
	Scheduler    *scheduler.Service

	httpMetrics *metrics.HTTPMetrics
	pathStats   *metrics.PathStats
	gatherer    prometheus.Gatherer
	ready       map[string]controllers.Pinger
	limiter     middleware.RateLimitStore
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	cfg := params.Config
	logg := params.Logger
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var (
		peopleRepo  participants.Repository = participants.NewMemoryRepository()
		consentRepo consents.Repository     = consents.NewMemoryRepository()
		ledgerRepo  audit.Repository        = audit.NewMemoryRepository()
		jobStore    outbox.Store            = outbox.NewMemoryStore()
		exportRepo  export.Repository       = export.NewMemoryRepository()
	)
	if params.DB != nil {
		conn := params.DB.DB()
		peopleRepo = participants.NewGormRepository(conn)
		consentRepo = consents.NewGormRepository(conn)
		ledgerRepo = audit.NewGormRepository(conn)
		jobStore = outbox.NewGormStore(conn)
		exportRepo = export.NewGormRepository(conn)
	}

	people, err := participants.NewService(peopleRepo, logg, clock)
	if err != nil {
		return nil, fmt.Errorf("participants: %w", err)
	}
	registry, err := consents.NewService(consentRepo, logg, clock)
	if err != nil {
		return nil, fmt.Errorf("consents: %w", err)
	}
	predicate, err := reeval.NewPredicate(people, registry, clock)
	if err != nil {
		return nil, fmt.Errorf("predicate: %w", err)
	}

	ledger, err := audit.NewService(audit.ServiceParams{Repository: ledgerRepo, Logger: logg, Clock: clock})
	if err != nil {
		return nil, fmt.Errorf("audit ledger: %w", err)
	}

	anchorer, err := newAnchorer(cfg.Anchor, clock)
	if err != nil {
		return nil, fmt.Errorf("anchorer: %w", err)
	}
	steps := outbox.LedgerSteps{Recorder: ledger}
	runner, err := outbox.NewRunner(outbox.RunnerParams{
		Config:      cfg.Outbox,
		Logger:      logg,
		Store:       jobStore,
		Reevaluator: predicate,
		Anchorer:    anchorer,
		Confirmer:   steps,
		Compensator: steps,
		Metrics:     metrics.NewOutboxMetrics(reg),
		Clock:       clock,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox runner: %w", err)
	}

	var publisher export.Publisher = export.NopPublisher{}
	if params.PubSub != nil {
		pub, err := export.NewPubSubPublisher(params.PubSub.ExportPublisher())
		if err != nil {
			return nil, fmt.Errorf("export publisher: %w", err)
		}
		publisher = pub
	}
	exports, err := export.NewService(export.ServiceParams{
		Ledger:     ledger,
		Repository: exportRepo,
		Publisher:  publisher,
		Logger:     logg,
		Clock:      clock,
		MaxRange:   cfg.Audit.ExportMaxRange,
	})
	if err != nil {
		return nil, fmt.Errorf("export service: %w", err)
	}

	reqs, err := requests.NewService(requests.ServiceParams{
		Evaluator: predicate,
		Enqueuer:  runner,
		Recorder:  ledger,
		Logger:    logg,
		Clock:     clock,
	})
	if err != nil {
		return nil, fmt.Errorf("requests service: %w", err)
	}

	sched, err := newScheduler(cfg.Scheduler, logg, runner, params.Redis, metrics.NewSchedulerMetrics(reg))
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	svc := &Service{
		cfg:          cfg,
		logg:         logg,
		Participants: people,
		Consents:     registry,
		Ledger:       ledger,
		Runner:       runner,
		Exports:      exports,
		Requests:     reqs,
		Scheduler:    sched,
		httpMetrics:  metrics.NewHTTPMetrics(reg),
		pathStats:    metrics.NewPathStats(),
		gatherer:     gatherer,
		ready:        map[string]controllers.Pinger{},
	}
	if params.DB != nil {
		svc.ready["database"] = params.DB
	}
	if params.Redis != nil {
		svc.ready["redis"] = params.Redis
		svc.limiter = params.Redis
	}
	if params.PubSub != nil {
		svc.ready["pubsub"] = params.PubSub
	}
	return svc, nil
}

// Handler builds the HTTP surface over the wired services.
func (s *Service) Handler() http.Handler {
	return routes.NewRouter(routes.Dependencies{
		Config:       s.cfg,
		Logger:       s.logg,
		Gatherer:     s.gatherer,
		HTTPMetrics:  s.httpMetrics,
		PathStats:    s.pathStats,
		RateLimiter:  s.limiter,
		Ready:        s.ready,
		Outbox:       s.Runner,
		Tick:         s.Scheduler.RunOnce,
		Ledger:       s.Ledger,
		LedgerStats:  s.Ledger,
		Exports:      s.Exports,
		Participants: s.Participants,
		Consents:     s.Consents,
		Requests:     s.Requests,
	})
}

// RunScheduler drives the outbox tick loop until ctx is cancelled.
func (s *Service) RunScheduler(ctx context.Context) error {
	return s.Scheduler.Run(ctx)
}

func newAnchorer(cfg config.AnchorConfig, clock func() time.Time) (outbox.Anchorer, error) {
	if cfg.Mode == config.AnchorModeHTTP {
		return outbox.NewHTTPAnchorer(cfg.URL, cfg.Timeout)
	}
	return outbox.SimulatedAnchorer{Clock: clock}, nil
}

func newScheduler(cfg config.SchedulerConfig, logg *logger.Logger, runner *outbox.Runner, redisClient *redis.Client, m *metrics.SchedulerMetrics) (*scheduler.Service, error) {
	job, err := scheduler.NewOutboxTickJob(runner)
	if err != nil {
		return nil, err
	}
	params := scheduler.ServiceParams{
		Logger:   logg,
		Registry: scheduler.NewRegistry(job),
		Metrics:  m,
		Interval: cfg.Interval,
	}
	if cfg.DistributedLock && redisClient != nil {
		lock, err := scheduler.NewRedisLock(redisClient, redisClient.LockKey(cfg.LockKey), cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		params.Lock = lock
	}
	return scheduler.NewService(params)
}
