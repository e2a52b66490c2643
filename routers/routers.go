package routers

import (
	"github.com/gorilla/mux"

	"github.com/Tuditi/pbsgraph/handlers"
)

// RegisterRoutes sets up the HTTP routes for the master's status API
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Overall run progress: engine state plus node-state tallies
	r.HandleFunc("/run", h.GetRunStatus).Methods("GET")

	// Per-node state and priority for the whole graph
	r.HandleFunc("/run/nodes", h.GetNodes).Methods("GET")

	// One node's state by index
	r.HandleFunc("/run/nodes/{index}", h.GetNode).Methods("GET")

	// Liveness probe
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
}
