package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jordanhubbard/edgegate/internal/events"
	"github.com/jordanhubbard/edgegate/internal/health"
	"github.com/jordanhubbard/edgegate/internal/pricing"
	"github.com/jordanhubbard/edgegate/internal/vault"
)

func LedgerSnapshotHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := d.Ledger.Snapshot(r.Context())
		if err != nil {
			jsonError(w, "ledger error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"totals": snap})
	}
}

// LedgerResetHandler clears every organization's total at the start of a
// billing period. An emergency stop is lifted only by this reset.
func LedgerResetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Ledger.Reset(r.Context()); err != nil {
			jsonError(w, "ledger error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if d.Metrics != nil {
			d.Metrics.LedgerResetTotal.Inc()
		}
		if d.EventBus != nil {
			d.EventBus.Publish(events.Event{
				Type:      events.EventLedgerReset,
				RequestID: middleware.GetReqID(r.Context()),
			})
		}
		slog.Info("ledger reset", slog.String("request_id", middleware.GetReqID(r.Context())))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func HealthStatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		edge := d.Engine.Edge()
		resp := map[string]any{
			"edge": map[string]string{
				"base_url":   edge.BaseURL,
				"health_url": edge.HealthURL(),
			},
			"targets": []health.Stats{},
		}
		if d.Health != nil {
			resp["targets"] = d.Health.All()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func AdminTokenRotateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := d.AdminToken.Rotate(slog.Default())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		slog.Info("admin token rotated", slog.String("request_id", middleware.GetReqID(r.Context())))
		writeJSON(w, http.StatusOK, map[string]string{"admin_token": tok})
	}
}

func VaultStatusHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{"locked": d.Vault.IsLocked()}
		if !d.Vault.IsLocked() {
			resp["providers"] = d.Vault.Providers()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func VaultLockHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if d.Vault.IsLocked() {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "already_locked": true})
			return
		}
		d.Vault.Lock()
		slog.Info("vault locked")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func VaultUnlockHandler(d Dependencies) http.HandlerFunc {
	type unlockReq struct {
		Password string `json:"password"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req unlockReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := d.Vault.Unlock([]byte(req.Password)); err != nil {
			if errors.Is(err, vault.ErrPasswordTooShort) {
				jsonError(w, err.Error(), http.StatusBadRequest)
				return
			}
			slog.Warn("vault unlock failed", slog.String("ip", r.RemoteAddr))
			jsonError(w, "unlock failed", http.StatusUnauthorized)
			return
		}
		slog.Info("vault unlocked")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// VaultCredentialHandler stores the API key for a cloud slot. Routing picks it
// up on the next decision.
func VaultCredentialHandler(d Dependencies) http.HandlerFunc {
	type credentialReq struct {
		APIKey string `json:"api_key"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := pricing.ProviderID(chi.URLParam(r, "provider"))
		var req credentialReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.APIKey == "" {
			jsonError(w, "api_key required", http.StatusBadRequest)
			return
		}
		if err := d.Vault.SetCredential(id, req.APIKey); err != nil {
			writeVaultError(w, err)
			return
		}
		slog.Info("credential stored", slog.String("provider", string(id)))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "provider": id})
	}
}

func VaultCredentialDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Vault.IsLocked() {
			writeVaultError(w, vault.ErrLocked)
			return
		}
		id := pricing.ProviderID(chi.URLParam(r, "provider"))
		d.Vault.Delete(id)
		slog.Info("credential deleted", slog.String("provider", string(id)))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "provider": id})
	}
}

func writeVaultError(w http.ResponseWriter, err error) {
	if errors.Is(err, vault.ErrLocked) {
		jsonError(w, err.Error(), http.StatusLocked)
		return
	}
	jsonError(w, err.Error(), http.StatusBadRequest)
}
