package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nextmed-labs/trustledger/api/controllers"
	"github.com/nextmed-labs/trustledger/api/middleware"
	"github.com/nextmed-labs/trustledger/internal/authz"
	"github.com/nextmed-labs/trustledger/pkg/config"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	"github.com/nextmed-labs/trustledger/pkg/logger"
	"github.com/nextmed-labs/trustledger/pkg/metrics"
)

// Dependencies carries everything the HTTP surface routes to. Optional fields may be nil.
type Dependencies struct {
	Config *config.Config
	Logger *logger.Logger

	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
	PathStats   *metrics.PathStats

	// RateLimiter is nil when Redis is not configured.
	RateLimiter middleware.RateLimitStore
	Ready       map[string]controllers.Pinger

	Outbox       controllers.OutboxOps
	Tick         controllers.TickFunc
	Ledger       controllers.AuditLedger
	LedgerStats  controllers.LedgerStats
	Exports      controllers.Exporter
	Participants controllers.ParticipantService
	Consents     controllers.ConsentService
	Requests     controllers.RequestService
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger
	gate := authz.NewGate()

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics, deps.PathStats),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	scoped := func(scopes ...enums.Scope) func(http.Handler) http.Handler {
		return middleware.RequireScopes(gate, logg, scopes...)
	}
	opsPolicy := middleware.NewRateLimitPolicy("ops", cfg.RateLimit.Window, cfg.RateLimit.Ops)
	limited := middleware.RateLimit(opsPolicy, deps.RateLimiter, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, deps.Ready, logg))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth, logg))

		r.Route("/ops", func(r chi.Router) {
			r.With(scoped(enums.ScopeOpsMetricsRead)).Get("/metrics", controllers.OpsMetrics(deps.PathStats, deps.Outbox, deps.LedgerStats, logg))
			r.With(scoped(enums.ScopeOpsMetricsRead)).Get("/outbox/jobs", controllers.ListOutboxJobs(deps.Outbox, logg))
			r.With(scoped(enums.ScopeOpsMetricsRead)).Get("/outbox/jobs/{id}", controllers.GetOutboxJob(deps.Outbox, logg))

			r.Group(func(r chi.Router) {
				r.Use(scoped(enums.ScopeOpsInvoke), limited)
				r.Post("/outbox/jobs/{id}/retry", controllers.RetryOutboxJob(deps.Outbox, logg))
				r.Post("/outbox/jobs/{id}/requeue", controllers.RequeueOutboxJob(deps.Outbox, logg))
				r.Post("/outbox/tick", controllers.TickOutbox(deps.Tick, logg))
			})
		})

		r.Route("/audit", func(r chi.Router) {
			r.With(scoped(enums.ScopeAuditRead)).Get("/events", controllers.ListAuditEvents(deps.Ledger, logg))
			r.With(scoped(enums.ScopeAuditRead)).Post("/verify", controllers.VerifyAuditChain(deps.Ledger, logg))
			r.With(scoped(enums.ScopeAuditExport), limited).Post("/export", controllers.CreateAuditExport(deps.Exports, logg))
			r.With(scoped(enums.ScopeAuditRead)).Get("/exports/{jobId}", controllers.GetAuditExport(deps.Exports, logg))
			r.With(scoped(enums.ScopeAuditRead)).Get("/exports/{jobId}/verify", controllers.VerifyAuditExport(deps.Exports, logg))
		})

		r.Route("/participants", func(r chi.Router) {
			r.With(scoped(enums.ScopeParticipantRegister)).Post("/", controllers.RegisterParticipant(deps.Participants, logg))
			r.With(scoped(enums.ScopeParticipantUpdate)).Post("/{id}/state", controllers.UpdateParticipantState(deps.Participants, logg))
			r.With(scoped(enums.ScopeRequestRead)).Get("/{id}", controllers.GetParticipant(deps.Participants, logg))
		})

		r.Route("/consents", func(r chi.Router) {
			r.With(scoped(enums.ScopeConsentWrite)).Post("/", controllers.RegisterConsent(deps.Consents, logg))
			r.With(scoped(enums.ScopeConsentWrite)).Post("/{id}/update", controllers.UpdateConsent(deps.Consents, logg))
			r.With(scoped(enums.ScopeConsentRevoke)).Post("/{id}/partial-revoke", controllers.PartialRevokeConsent(deps.Consents, logg))
			r.With(scoped(enums.ScopeRequestRead)).Get("/{id}", controllers.GetConsent(deps.Consents, logg))
		})

		r.Route("/requests", func(r chi.Router) {
			r.With(scoped(enums.ScopeRequestSubmit)).Post("/", controllers.SubmitRequest(deps.Requests, logg))
			r.With(scoped(enums.ScopeRequestRead)).Get("/{trackingId}", controllers.GetRequest(deps.Requests, logg))
		})
	})

	return r
}
