package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rampartlabs/rampart/internal/admission"
	"github.com/rampartlabs/rampart/internal/core/domain"
	"github.com/rampartlabs/rampart/internal/core/ports"
)

// mountAdmin attaches the control surface for operators: inspect and clear
// block entries, and view a client's reputation state. By default /admin is
// treated as a sensitive probe path; deployments that use this surface must
// list it under exempt_paths and shield it with network policy.
func mountAdmin(r chi.Router, state *admission.State, store ports.ViolationStore) {
	h := &adminHandler{state: state, store: store}

	r.Route("/admin", func(r chi.Router) {
		r.Get("/blocklist", h.listBlocked)
		r.Post("/blocklist/unblock", h.unblock)
		r.Get("/clients/{client}", h.clientState)
	})
}

type adminHandler struct {
	state *admission.State
	store ports.ViolationStore
}

func (h *adminHandler) listBlocked(w http.ResponseWriter, _ *http.Request) {
	entries := h.state.Blocks.Entries()
	if entries == nil {
		entries = []domain.BlockEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": entries})
}

type unblockRequest struct {
	Client string `json:"client"`
}

func (h *adminHandler) unblock(w http.ResponseWriter, r *http.Request) {
	var req unblockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Client == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "client is required"})
		return
	}

	removed := h.state.Blocks.Unblock(domain.ClientKey(req.Client))
	if !removed {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "client not blocked"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unblocked": req.Client})
}

func (h *adminHandler) clientState(w http.ResponseWriter, r *http.Request) {
	client := domain.ClientKey(chi.URLParam(r, "client"))

	record := h.state.Reputation.Record(client)
	blocked, entry := h.state.Blocks.IsBlocked(client)

	resp := map[string]any{
		"client":     client,
		"reputation": record,
		"blocked":    blocked,
	}
	if blocked {
		resp["block"] = entry
	}

	if h.store != nil {
		if events, err := h.store.RecentViolations(r.Context(), client, 20); err == nil {
			resp["recent_violations"] = events
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
