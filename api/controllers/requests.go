package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nextmed-labs/trustledger/api/middleware"
	"github.com/nextmed-labs/trustledger/api/responses"
	"github.com/nextmed-labs/trustledger/api/validators"
	"github.com/nextmed-labs/trustledger/internal/requests"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

const (
	simulateAnchorHeader = "X-Simulate-Anchor"
	simulateAuditHeader  = "X-Simulate-Audit"
)

type RequestService interface {
	Submit(ctx context.Context, in requests.SubmitInput, actor enums.Role) (requests.Request, error)
	Get(ctx context.Context, trackingID string) (requests.Request, error)
}

type submitRequest struct {
	RequesterID string `json:"requesterId"`
	ConsentID   string `json:"consentId"`
	DataType    string `json:"dataType"`
	Recipient   string `json:"recipient"`
	Purpose     string `json:"purpose"`
	TimestampMs *int64 `json:"timestampMs"`
}

// SubmitRequest evaluates a data request. X-Simulate-* headers force saga step outcomes.
func SubmitRequest(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var body submitRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		anchor, err := simulationHeader(r, simulateAnchorHeader)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		auditSim, err := simulationHeader(r, simulateAuditHeader)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		req, err := svc.Submit(ctx, requests.SubmitInput{
			RequesterID:    body.RequesterID,
			ConsentID:      body.ConsentID,
			DataType:       body.DataType,
			Recipient:      body.Recipient,
			Purpose:        body.Purpose,
			TimestampMs:    body.TimestampMs,
			SimulateAnchor: anchor,
			SimulateAudit:  auditSim,
		}, middleware.RoleFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, req)
	}
}

func GetRequest(svc RequestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := svc.Get(r.Context(), strings.TrimSpace(chi.URLParam(r, "trackingId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, req)
	}
}

func simulationHeader(r *http.Request, name string) (enums.Simulation, error) {
	sim, err := enums.ParseSimulation(strings.ToLower(strings.TrimSpace(r.Header.Get(name))))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid simulation header").
			WithDetails(map[string]any{"header": name, "allowed": []string{"ok", "fail"}})
	}
	return sim, nil
}
