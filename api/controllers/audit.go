package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nextmed-labs/trustledger/api/middleware"
	"github.com/nextmed-labs/trustledger/api/responses"
	"github.com/nextmed-labs/trustledger/api/validators"
	"github.com/nextmed-labs/trustledger/internal/audit"
	"github.com/nextmed-labs/trustledger/internal/export"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

const maxFilterLen = 128

// AuditLedger is the ledger surface the audit routes use.
type AuditLedger interface {
	Search(ctx context.Context, f audit.Filter) ([]audit.Event, error)
	VerifyChain(ctx context.Context, actor enums.Role) (audit.VerifyResult, error)
}

// Exporter creates and loads sealed export slices.
type Exporter interface {
	Create(ctx context.Context, req export.Request) (export.Job, []audit.Event, error)
	Get(ctx context.Context, jobID string) (export.Job, error)
	VerifyExport(ctx context.Context, jobID string) (export.Job, bool, error)
}

type exportRequest struct {
	FromMs *int64 `json:"fromMs"`
	ToMs   *int64 `json:"toMs"`
}

type exportResponse struct {
	Job   export.Job    `json:"job"`
	Items []audit.Event `json:"items"`
}

func ListAuditEvents(ledger AuditLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseAuditFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		events, err := ledger.Search(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newList(events))
	}
}

// VerifyAuditChain walks the whole chain. Discrepancies answer 409 with every issue found.
func VerifyAuditChain(ledger AuditLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		result, err := ledger.VerifyChain(ctx, middleware.RoleFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !result.OK {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIntegrity, "audit chain integrity check failed").
				WithDetails(map[string]any{"issues": result.Issues}))
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func CreateAuditExport(svc Exporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var body exportRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}
		job, items, err := svc.Create(ctx, export.Request{
			RequesterRole: middleware.RoleFromContext(ctx),
			FromMs:        body.FromMs,
			ToMs:          body.ToMs,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if items == nil {
			items = []audit.Event{}
		}
		responses.WriteSuccess(w, exportResponse{Job: job, Items: items})
	}
}

func GetAuditExport(svc Exporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.Get(r.Context(), strings.TrimSpace(chi.URLParam(r, "jobId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// VerifyAuditExport re-checks a sealed slice against the live ledger. A slice that no longer
// matches answers 409 like the full chain check.
func VerifyAuditExport(svc Exporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		job, ok, err := svc.VerifyExport(ctx, strings.TrimSpace(chi.URLParam(r, "jobId")))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIntegrity, "export slice no longer matches the ledger").
				WithDetails(map[string]any{"jobId": job.JobID}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"ok": true, "job": job})
	}
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	from, err := validators.ParseQueryInt64Ptr(r, "fromMs")
	if err != nil {
		return audit.Filter{}, err
	}
	to, err := validators.ParseQueryInt64Ptr(r, "toMs")
	if err != nil {
		return audit.Filter{}, err
	}
	return audit.Filter{
		FromMs:     from,
		ToMs:       to,
		ActorRole:  enums.Role(validators.ParseQueryString(r, "actorRole", maxFilterLen)),
		TargetType: enums.AuditTargetType(validators.ParseQueryString(r, "targetType", maxFilterLen)),
		TargetID:   validators.ParseQueryString(r, "targetId", maxFilterLen),
		Action:     validators.ParseQueryString(r, "action", maxFilterLen),
		Result:     enums.AuditResult(validators.ParseQueryString(r, "result", maxFilterLen)),
	}, nil
}
