package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jordanhubbard/edgegate/internal/ledger"
	"github.com/jordanhubbard/edgegate/internal/pricing"
	"github.com/jordanhubbard/edgegate/internal/routing"
)

type costRecordReq struct {
	OrgID    string             `json:"org_id" validate:"required"`
	Provider pricing.ProviderID `json:"provider,omitempty" validate:"omitempty,oneof=edge cloud-primary cloud-secondary"`
	CostEUR  float64            `json:"cost_eur" validate:"gte=0"`
}

// CostRecordHandler adds the actual cost of a completed call to the ledger.
// Retried submissions carrying the same Idempotency-Key are replayed by the
// idempotency middleware instead of being counted twice.
func CostRecordHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req costRecordReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.OrgID == "" {
			req.OrgID = r.Header.Get(headerOrg)
		}
		if err := routing.Validate(req); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		total, err := d.Ledger.Add(r.Context(), req.OrgID, req.CostEUR)
		if err != nil {
			if errors.Is(err, ledger.ErrInvalidAmount) {
				jsonError(w, err.Error(), http.StatusBadRequest)
				return
			}
			slog.Error("ledger add failed", slog.String("org_id", req.OrgID), slog.String("error", err.Error()))
			jsonError(w, "ledger error", http.StatusInternalServerError)
			return
		}
		if d.Metrics != nil {
			provider := string(req.Provider)
			if provider == "" {
				provider = "unknown"
			}
			d.Metrics.RecordedCostEUR.WithLabelValues(provider).Add(req.CostEUR)
		}
		writeJSON(w, http.StatusOK, map[string]any{"org_id": req.OrgID, "total_eur": total})
	}
}

// costRecordScope scopes idempotency keys by the organization
// CostRecordHandler will credit: the body org_id, else the header. The body
// is restored for the handler.
func costRecordScope(r *http.Request) string {
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err == nil {
		var peek struct {
			OrgID string `json:"org_id"`
		}
		if json.Unmarshal(body, &peek) == nil && peek.OrgID != "" {
			return peek.OrgID
		}
	}
	return r.Header.Get(headerOrg)
}

// CostGetHandler reports an organization's spend. With ?budget_eur= it also
// reports whether the organization is within that budget and its utilization.
func CostGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org := chi.URLParam(r, "org")
		total, err := d.Ledger.Total(r.Context(), org)
		if err != nil {
			slog.Error("ledger read failed", slog.String("org_id", org), slog.String("error", err.Error()))
			jsonError(w, "ledger error", http.StatusInternalServerError)
			return
		}
		resp := map[string]any{"org_id": org, "total_eur": total}

		if raw := r.URL.Query().Get("budget_eur"); raw != "" {
			budget, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				jsonError(w, "budget_eur must be a number", http.StatusBadRequest)
				return
			}
			within, err := d.Ledger.WithinBudget(r.Context(), org, budget)
			if err != nil {
				jsonError(w, "ledger error", http.StatusInternalServerError)
				return
			}
			util, err := d.Ledger.Utilization(r.Context(), org, budget)
			if err != nil {
				jsonError(w, "ledger error", http.StatusInternalServerError)
				return
			}
			resp["budget_eur"] = budget
			resp["within_budget"] = within
			resp["utilization_pct"] = util
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
