package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jordanhubbard/edgegate/internal/budget"
	"github.com/jordanhubbard/edgegate/internal/routing"
)

type routeRequest struct {
	routing.Request
	Limits *budget.Limits `json:"limits,omitempty"`
}

type routeResponse struct {
	Decision  routing.Decision `json:"decision"`
	Redaction *redactResponse  `json:"redaction,omitempty"`
}

// RouteHandler returns a routing decision. When the decision requires
// redaction and the request carries content, the redacted content and its
// token map are returned alongside so the caller can dispatch and rehydrate.
func RouteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req routeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.OrgID == "" {
			req.OrgID = r.Header.Get(headerOrg)
		}
		limits := d.Limits
		if req.Limits != nil {
			limits = *req.Limits
		}

		dec, err := d.Engine.Route(r.Context(), req.Request, limits)
		if err != nil {
			writeRoutingError(w, r, err)
			return
		}

		resp := routeResponse{Decision: dec}
		if dec.ShouldRedact && req.Content != "" {
			res := d.Redactor.Redact(dec.RequestID, req.Content)
			resp.Redaction = newRedactResponse(dec.RequestID, res)
			res.Tokens.Dispose()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// writeRoutingError maps engine errors onto HTTP statuses: validation 400,
// budget 402, emergency stop 423, anything else 500.
func writeRoutingError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *routing.ValidationError
	var over *budget.BudgetExceededError
	var stop *budget.EmergencyStopError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  verr.Error(),
			"type":   "invalid_request",
			"fields": verr.Fields,
		})
	case errors.As(err, &over):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":         over.Error(),
			"type":          "budget_exceeded",
			"org_id":        over.OrgID,
			"limit":         over.Limit,
			"estimated_eur": over.EstimatedEUR,
			"limit_eur":     over.LimitEUR,
		})
	case errors.As(err, &stop):
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":         stop.Error(),
			"type":          "emergency_stop",
			"org_id":        stop.OrgID,
			"current_eur":   stop.CurrentEUR,
			"estimated_eur": stop.EstimatedEUR,
			"threshold_eur": stop.ThresholdEUR,
		})
	default:
		slog.Error("routing failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
		jsonError(w, "routing failed", http.StatusInternalServerError)
	}
}
