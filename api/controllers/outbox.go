package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nextmed-labs/trustledger/api/responses"
	"github.com/nextmed-labs/trustledger/internal/outbox"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

// OutboxOps is the operator surface of the saga runner.
type OutboxOps interface {
	List(ctx context.Context) ([]outbox.Job, error)
	Get(ctx context.Context, id string) (outbox.Job, error)
	Retry(ctx context.Context, id string) (outbox.Job, error)
	Requeue(ctx context.Context, id string) (outbox.Job, error)
	Stats(ctx context.Context) (outbox.Stats, error)
}

// TickFunc runs one outbox cycle on demand.
type TickFunc func(ctx context.Context) error

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: len(items)}
}

func ListOutboxJobs(svc OutboxOps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newList(jobs))
	}
}

func GetOutboxJob(svc OutboxOps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.Get(r.Context(), jobIDParam(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// RetryOutboxJob forces the job due now; the response reflects the synchronous tick.
func RetryOutboxJob(svc OutboxOps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := jobIDParam(r)
		if logg != nil {
			ctx = logg.WithJobID(ctx, id)
		}
		job, err := svc.Retry(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// RequeueOutboxJob re-evaluates a parked job. A failed re-evaluation is a 409 carrying the job.
func RequeueOutboxJob(svc OutboxOps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := jobIDParam(r)
		if logg != nil {
			ctx = logg.WithJobID(ctx, id)
		}
		job, err := svc.Requeue(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// TickOutbox runs a cycle and responds once it has finished, waiting out any cycle in progress.
func TickOutbox(tick TickFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := tick(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "outbox tick failed"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"ok": true})
	}
}

func jobIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}
