package controllers

import (
	"context"
	"net/http"

	"github.com/nextmed-labs/trustledger/api/responses"
	"github.com/nextmed-labs/trustledger/internal/audit"
	"github.com/nextmed-labs/trustledger/internal/outbox"
	"github.com/nextmed-labs/trustledger/pkg/logger"
	"github.com/nextmed-labs/trustledger/pkg/metrics"
)

const recentAuditLimit = 5

// LedgerStats is the read side of the ledger the dashboard needs.
type LedgerStats interface {
	Stats(ctx context.Context) (audit.Stats, error)
	Recent(ctx context.Context, n int) ([]audit.Event, error)
}

type opsMetricsResponse struct {
	Endpoints   []metrics.PathStat `json:"endpoints"`
	Outbox      outbox.Stats       `json:"outbox"`
	Audit       audit.Stats        `json:"audit"`
	RecentAudit []audit.Event      `json:"recentAudit"`
}

// OpsMetrics renders the operator dashboard snapshot.
func OpsMetrics(paths *metrics.PathStats, jobs OutboxOps, ledger LedgerStats, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		outboxStats, err := jobs.Stats(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		auditStats, err := ledger.Stats(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		recent, err := ledger.Recent(ctx, recentAuditLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if recent == nil {
			recent = []audit.Event{}
		}
		endpoints := paths.Snapshot()
		if endpoints == nil {
			endpoints = []metrics.PathStat{}
		}
		responses.WriteSuccess(w, opsMetricsResponse{
			Endpoints:   endpoints,
			Outbox:      outboxStats,
			Audit:       auditStats,
			RecentAudit: recent,
		})
	}
}
