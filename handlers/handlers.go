package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Tuditi/pbsgraph/dag"
	"github.com/Tuditi/pbsgraph/logger"
	"github.com/Tuditi/pbsgraph/scheduler"
)

// StatusSource is the slice of the engine the HTTP surface reads from.
type StatusSource interface {
	Status() scheduler.Status
}

// Handler contains the HTTP handlers for the master's status API. It only
// ever reads: the run is driven by the engine, the API just observes it.
type Handler struct {
	Engine StatusSource
	Graph  *dag.Graph
}

// NewHandler creates and returns a new Handler instance
func NewHandler(engine StatusSource, graph *dag.Graph) *Handler {
	return &Handler{Engine: engine, Graph: graph}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// GetRunStatus handles GET requests for overall run progress
func (h *Handler) GetRunStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":       h.Engine.Status(),
		"node_states":  h.Graph.StateCounts(),
		"total_nodes":  h.Graph.Len(),
		"not_computed": h.Graph.NotComputed(),
	})
}

// GetNodes handles GET requests for the per-node state snapshot
func (h *Handler) GetNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Graph.Snapshot())
}

// GetNode handles GET requests for a single node's state
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		logger.Logger.Error("Invalid node index", zap.String("raw", mux.Vars(r)["index"]))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid node index"})
		return
	}

	snapshot := h.Graph.Snapshot()
	if index < 0 || index >= len(snapshot) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "node not found"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot[index])
}

// Healthz reports liveness
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
