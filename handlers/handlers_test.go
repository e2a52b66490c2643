package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Tuditi/pbsgraph/dag"
	"github.com/Tuditi/pbsgraph/fhe"
	"github.com/Tuditi/pbsgraph/handlers"
	"github.com/Tuditi/pbsgraph/logger"
	"github.com/Tuditi/pbsgraph/models"
	"github.com/Tuditi/pbsgraph/routers"
	"github.com/Tuditi/pbsgraph/scheduler"
)

type fakeEngine struct {
	status scheduler.Status
}

func (f *fakeEngine) Status() scheduler.Status {
	return f.status
}

func testServer() (*mux.Router, *dag.Graph) {
	logger.Logger = zap.NewNop()

	b := dag.NewBuilder()
	a := b.Input(&fhe.ClearCiphertext{Value: 1})
	c := b.Input(&fhe.ClearCiphertext{Value: 2})
	b.Op(models.LutExtractMessage, dag.Weighted(a, 1), dag.Weighted(c, 1))
	graph := b.Build()

	engine := &fakeEngine{status: scheduler.Status{
		RunID:      "test-run",
		State:      "running",
		Dispatched: 1,
		Committed:  0,
		InFlight:   1,
	}}
	handler := handlers.NewHandler(engine, graph)
	router := mux.NewRouter()
	routers.RegisterRoutes(router, handler)
	return router, graph
}

func TestGetRunStatus(t *testing.T) {
	router, _ := testServer()

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/run", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}

	engineStatus, ok := body["engine"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing 'engine' in response: %v", body)
	}
	if engineStatus["run_id"] != "test-run" {
		t.Fatalf("expected run_id test-run, got %v", engineStatus["run_id"])
	}
	if body["total_nodes"] != float64(3) {
		t.Fatalf("expected 3 total nodes, got %v", body["total_nodes"])
	}
	if body["not_computed"] != float64(1) {
		t.Fatalf("expected 1 not computed, got %v", body["not_computed"])
	}

	states, ok := body["node_states"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing 'node_states' in response: %v", body)
	}
	if states["computed"] != float64(2) || states["pending"] != float64(1) {
		t.Fatalf("unexpected node state tallies: %v", states)
	}
}

func TestGetNodes(t *testing.T) {
	router, _ := testServer()

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/run/nodes", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}

	var nodes []dag.NodeStatus
	if err := json.Unmarshal(res.Body.Bytes(), &nodes); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	if nodes[0].State != "computed" || nodes[2].State != "pending" {
		t.Fatalf("unexpected node states: %+v", nodes)
	}
}

func TestGetNode(t *testing.T) {
	router, _ := testServer()

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/run/nodes/2", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}

	var node dag.NodeStatus
	if err := json.Unmarshal(res.Body.Bytes(), &node); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if node.Index != 2 {
		t.Fatalf("expected node index 2, got %d", node.Index)
	}
	if node.State != "pending" {
		t.Fatalf("expected state pending, got %s", node.State)
	}
}

func TestGetNode_InvalidIndex(t *testing.T) {
	router, _ := testServer()

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/run/nodes/abc", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestGetNode_OutOfRange(t *testing.T) {
	router, _ := testServer()

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/run/nodes/99", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	router, _ := testServer()

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
}
