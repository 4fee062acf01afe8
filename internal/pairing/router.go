package pairing

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// storeRequest is the POST /api/pairing/store body (§6).
type storeRequest struct {
	Code string          `json:"code"`
	Data json.RawMessage `json:"data"`
}

// NewRouter builds the relay's pairing HTTP surface (§6):
//
//	POST /api/pairing/store        X-User-ID: <identity_public_key_hex>  {code, data} -> {ok, expiresAt}
//	GET  /api/pairing/lookup/{code}                                              -> {success, data} or 404
func NewRouter(store *Store) chi.Router {
	r := chi.NewRouter()
	r.Post("/api/pairing/store", handleStore(store))
	r.Get("/api/pairing/lookup/{code}", handleLookup(store))
	return r
}

func handleStore(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			http.Error(w, "missing X-User-ID", http.StatusBadRequest)
			return
		}

		var req storeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if req.Code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		expiresAt, err := store.Put(req.Code, userID, req.Data)
		if err != nil {
			log.Error().Err(err).Msg("pairing: store failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "expiresAt": expiresAt})
	}
}

func handleLookup(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		entry, found := store.Lookup(code)
		if !found {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": entry.Data})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("pairing: failed to write response")
	}
}
