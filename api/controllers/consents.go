package controllers

import (
	"context"
	"net/http"

	"github.com/nextmed-labs/trustledger/api/middleware"
	"github.com/nextmed-labs/trustledger/api/responses"
	"github.com/nextmed-labs/trustledger/api/validators"
	"github.com/nextmed-labs/trustledger/internal/consents"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

type ConsentService interface {
	Register(ctx context.Context, input consents.RegisterInput, actor enums.Role) (consents.Consent, error)
	Update(ctx context.Context, id string, input consents.UpdateInput, actor enums.Role) (consents.Consent, error)
	PartialRevoke(ctx context.Context, id string, input consents.PartialRevokeInput, actor enums.Role) (consents.Consent, error)
	Get(ctx context.Context, id string) (consents.Consent, error)
}

func RegisterConsent(svc ConsentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var input consents.RegisterInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		c, err := svc.Register(ctx, input, middleware.RoleFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, c)
	}
}

func UpdateConsent(svc ConsentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var input consents.UpdateInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		c, err := svc.Update(ctx, idParam(r), input, middleware.RoleFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, c)
	}
}

func PartialRevokeConsent(svc ConsentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var input consents.PartialRevokeInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		c, err := svc.PartialRevoke(ctx, idParam(r), input, middleware.RoleFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, c)
	}
}

func GetConsent(svc ConsentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.Get(r.Context(), idParam(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, c)
	}
}
