package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nextmed-labs/trustledger/api/middleware"
	"github.com/nextmed-labs/trustledger/api/responses"
	"github.com/nextmed-labs/trustledger/api/validators"
	"github.com/nextmed-labs/trustledger/internal/participants"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

type ParticipantService interface {
	Register(ctx context.Context, input participants.RegisterInput, actor enums.Role) (participants.Participant, error)
	UpdateState(ctx context.Context, id string, input participants.UpdateStateInput, actor enums.Role) (participants.Participant, error)
	Get(ctx context.Context, id string) (participants.Participant, error)
}

func RegisterParticipant(svc ParticipantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var input participants.RegisterInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		p, err := svc.Register(ctx, input, middleware.RoleFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, p)
	}
}

func UpdateParticipantState(svc ParticipantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var input participants.UpdateStateInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		p, err := svc.UpdateState(ctx, idParam(r), input, middleware.RoleFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, p)
	}
}

func GetParticipant(svc ParticipantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Get(r.Context(), idParam(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, p)
	}
}

func idParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}
