// Package router wires the Presence Core's HTTP surface: websocket and
// webrtc signalling upgrade endpoints, the grid's child-agent close
// callback, and an admin/debug subrouter for inspecting live presences.
// Patterns (PathPrefix/Subrouter, protected-vs-open route groups)
// mirror the teacher's router.SetupFoundationRoutes/
// SetupCollaborationRoutes.
package router

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"presencecore/collab"
	"presencecore/grid"
	"presencecore/presence"
	"presencecore/transport"
)

// Registry is the host process's live presence directory, read by the
// debug subrouter; the region's own main loop owns writes to it.
type Registry interface {
	Orchestrators() map[collab.PresenceID]*presence.Orchestrator
	Orchestrator(id collab.PresenceID) (*presence.Orchestrator, bool)
}

// SetupRoutes registers the Presence Core's HTTP surface on r.
func SetupRoutes(r *mux.Router, registry Registry, ws *transport.WebSocketSink, rtc *transport.WebRTCSink, gridSvc *grid.Service) {
	r.HandleFunc("/healthz", handleHealthz).Methods("GET")

	signalling := r.PathPrefix("/signalling").Subrouter()
	signalling.HandleFunc("/ws/{presenceId}", handleWebSocketUpgrade(ws)).Methods("GET")
	signalling.HandleFunc("/webrtc/{presenceId}", handleWebRTCUpgrade(rtc)).Methods("GET")

	gridRoutes := r.PathPrefix("/grid").Subrouter()
	gridRoutes.HandleFunc("/child-agents/close", handleCloseChildAgent(registry, gridSvc)).Methods("POST")

	debug := r.PathPrefix("/debug/presences").Subrouter()
	debug.HandleFunc("", handleListPresences(registry)).Methods("GET")
	debug.HandleFunc("/{presenceId}", handleGetPresence(registry)).Methods("GET")
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func handleWebSocketUpgrade(ws *transport.WebSocketSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presenceID := collab.PresenceID(mux.Vars(r)["presenceId"])
		if err := ws.ServeWS(presenceID, w, r); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
}

func handleWebRTCUpgrade(rtc *transport.WebRTCSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presenceID := collab.PresenceID(mux.Vars(r)["presenceId"])
		if err := rtc.ServeSignalling(presenceID, w, r); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
}

type closeChildAgentRequest struct {
	PresenceID collab.PresenceID `json:"presence_id"`
}

func handleCloseChildAgent(registry Registry, gridSvc *grid.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		const bearerPrefix = "Bearer "
		if len(authHeader) <= len(bearerPrefix) || authHeader[:len(bearerPrefix)] != bearerPrefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := gridSvc.VerifyNeighbourToken(authHeader[len(bearerPrefix):]); err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}

		var req closeChildAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		orch, ok := registry.Orchestrator(req.PresenceID)
		if !ok {
			http.Error(w, "presence not found", http.StatusNotFound)
			return
		}
		if err := orch.Logout(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

type presenceDebugView struct {
	ID        collab.PresenceID `json:"id"`
	Name      string            `json:"name"`
	State     string            `json:"lifecycle_state"`
	IsChild   bool              `json:"is_child"`
	IsSitting bool              `json:"is_sitting"`
	Health    float64           `json:"health"`
	Position  [3]float64        `json:"position"`
}

func debugViewOf(id collab.PresenceID, p *presence.Presence) presenceDebugView {
	pos := p.Position()
	return presenceDebugView{
		ID:        id,
		Name:      p.Name(),
		State:     p.LifecycleState().String(),
		IsChild:   p.IsChild(),
		IsSitting: p.IsSitting(),
		Health:    p.Health(),
		Position:  [3]float64{pos.X, pos.Y, pos.Z},
	}
}

func handleListPresences(registry Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orchestrators := registry.Orchestrators()
		views := make([]presenceDebugView, 0, len(orchestrators))
		for id, orch := range orchestrators {
			views = append(views, debugViewOf(id, orch.Presence))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleGetPresence(registry Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := collab.PresenceID(mux.Vars(r)["presenceId"])
		orch, ok := registry.Orchestrator(id)
		if !ok {
			http.Error(w, "presence not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(debugViewOf(id, orch.Presence))
	}
}
