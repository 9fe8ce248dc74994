package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/jordanhubbard/edgegate/internal/redact"
)

// tokenMapBody is the wire form of a token map. The server keeps no copy:
// the caller holds it for exactly one request/response cycle.
type tokenMapBody struct {
	RequestID string            `json:"request_id"`
	Tokens    map[string]string `json:"tokens"`
}

type redactResponse struct {
	RequestID string       `json:"request_id"`
	Redacted  string       `json:"redacted"`
	TokenMap  tokenMapBody `json:"token_map"`
}

func newRedactResponse(requestID string, res redact.Result) *redactResponse {
	return &redactResponse{
		RequestID: requestID,
		Redacted:  res.Redacted,
		TokenMap:  tokenMapBody{RequestID: res.Tokens.RequestID(), Tokens: res.Tokens.Entries()},
	}
}

func RedactHandler(d Dependencies) http.HandlerFunc {
	type redactReq struct {
		RequestID string `json:"request_id"`
		Content   string `json:"content"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req redactReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}
		res := d.Redactor.Redact(req.RequestID, req.Content)
		defer res.Tokens.Dispose()
		writeJSON(w, http.StatusOK, newRedactResponse(req.RequestID, res))
	}
}

// RehydrateHandler restores a provider response. The token map must belong to
// the same request as the response; a foreign map is refused with 409.
func RehydrateHandler(d Dependencies) http.HandlerFunc {
	type rehydrateReq struct {
		RequestID string       `json:"request_id"`
		TokenMap  tokenMapBody `json:"token_map"`
		Text      string       `json:"text"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req rehydrateReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.RequestID == "" {
			jsonError(w, "request_id required", http.StatusBadRequest)
			return
		}
		tm := redact.NewTokenMap(req.TokenMap.RequestID, req.TokenMap.Tokens)
		defer tm.Dispose()

		text, err := tm.Rehydrate(req.RequestID, req.Text)
		if err != nil {
			if errors.Is(err, redact.ErrForeignTokenMap) {
				jsonError(w, err.Error(), http.StatusConflict)
				return
			}
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"request_id": req.RequestID, "text": text})
	}
}
