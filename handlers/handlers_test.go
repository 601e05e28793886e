package handlers_test

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"dag-learning/centroid"
	"dag-learning/config"
	"dag-learning/handlers"
	"dag-learning/logger"
	"dag-learning/models"
	"dag-learning/routers"
	"dag-learning/simulation"
)

func testServer(t *testing.T, open bool) (*mux.Router, *simulation.Simulator) {
	logger.Logger = zap.NewNop()

	v := viper.New()
	config.SetDefaults(v)
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Simulation.Nodes = 3
	cfg.Simulation.Topology = string(simulation.TopologyRing)

	rng := rand.New(rand.NewSource(1))
	task, err := centroid.NewTask("task", 3, 4, centroid.Synthetic(rng, 60, 4, 3, 1))
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	shards := make([]simulation.Shard, cfg.Simulation.Nodes)
	for i := range shards {
		shards[i] = simulation.Shard{
			Train: centroid.Synthetic(rng, 40, 4, 3, 1),
			Test:  centroid.Synthetic(rng, 20, 4, 3, 1),
		}
	}
	sim, err := simulation.Build(cfg, task, shards, centroid.Synthetic(rng, 20, 4, 3, 1), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { sim.Close() })
	if open {
		if _, err := sim.Open(0, 1); err != nil {
			t.Fatalf("open: %v", err)
		}
	}

	handler := handlers.NewHandler(sim)
	router := mux.NewRouter()
	routers.RegisterRoutes(router, handler)
	return router, sim
}

func do(router *mux.Router, method, path string) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(method, path, nil))
	return res
}

func TestListNodes(t *testing.T) {
	router, _ := testServer(t, true)

	res := do(router, http.MethodGet, "/nodes")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var nodes []map[string]interface{}
	if err := json.Unmarshal(res.Body.Bytes(), &nodes); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	if nodes[0]["id"] != "node-0" {
		t.Fatalf("expected node-0 first, got %v", nodes[0]["id"])
	}
}

func TestGetNode(t *testing.T) {
	router, sim := testServer(t, true)

	res := do(router, http.MethodGet, "/nodes/node-1")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(res.Body.Bytes(), &meta); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	n := sim.Registry().Get(1)
	if meta["current_model_id"] != n.ModelID() {
		t.Fatalf("expected model %s, got %v", n.ModelID(), meta["current_model_id"])
	}
	if _, ok := meta["current_tx"]; !ok {
		t.Fatalf("expected current_tx in %v", meta)
	}

	if res := do(router, http.MethodGet, "/nodes/nope"); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown node, got %d", res.Code)
	}
}

func TestTransactions(t *testing.T) {
	router, sim := testServer(t, true)
	ledger := sim.Registry().Get(0).Ledger()

	res := do(router, http.MethodGet, "/nodes/node-0/transactions")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var txs []models.Transaction
	if err := json.Unmarshal(res.Body.Bytes(), &txs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(txs) != ledger.Len() {
		t.Fatalf("expected %d transactions, got %d", ledger.Len(), len(txs))
	}
	if !txs[0].IsGenesis() {
		t.Fatalf("expected genesis first, got %s", txs[0].Type)
	}

	res = do(router, http.MethodGet, "/nodes/node-0/transactions/"+txs[1].ID)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var tx models.Transaction
	if err := json.Unmarshal(res.Body.Bytes(), &tx); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if tx.ID != txs[1].ID {
		t.Fatalf("expected %s, got %s", txs[1].ID, tx.ID)
	}

	if res := do(router, http.MethodGet, "/nodes/node-0/transactions/missing"); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestTipsAndHighestCumulativeWeight(t *testing.T) {
	router, sim := testServer(t, true)
	n := sim.Registry().Get(0)

	res := do(router, http.MethodGet, "/nodes/node-0/tips")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var tips []models.Transaction
	if err := json.Unmarshal(res.Body.Bytes(), &tips); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	current, _ := n.Ledger().GetTransactionByModelID(n.ModelID())
	if len(tips) != 1 || tips[0].ID != current.ID {
		t.Fatalf("expected the local SOLVE as only tip, got %v", tips)
	}

	res = do(router, http.MethodGet, "/nodes/node-0/highest-cumulative-weight")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var body struct {
		Transaction models.Transaction `json:"transaction"`
		Weight      int                `json:"cumulative_weight"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Transaction.Type != models.TxOpen || body.Weight != 1 {
		t.Fatalf("expected OPEN with weight 1, got %s with %d", body.Transaction.Type, body.Weight)
	}
}

func TestHighestCumulativeWeightEmptyLedger(t *testing.T) {
	router, _ := testServer(t, false)

	if res := do(router, http.MethodGet, "/nodes/node-2/highest-cumulative-weight"); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestValidateLedger(t *testing.T) {
	router, _ := testServer(t, true)

	res := do(router, http.MethodGet, "/nodes/node-0/validate")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["valid"] != true {
		t.Fatalf("expected valid ledger, got %v", body)
	}
}

func TestModelLookups(t *testing.T) {
	router, sim := testServer(t, true)
	n := sim.Registry().Get(0)
	modelID := n.ModelID()

	res := do(router, http.MethodGet, "/nodes/node-0/models/"+modelID+"/transaction")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var tx models.Transaction
	if err := json.Unmarshal(res.Body.Bytes(), &tx); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if tx.ModelID != modelID || tx.Owner != "node-0" {
		t.Fatalf("unexpected transaction %+v", tx)
	}

	if res := do(router, http.MethodGet, "/nodes/node-0/models/unknown/transaction"); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	res = do(router, http.MethodGet, "/nodes/node-0/models/unknown/evaluation")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var eval models.EvalResult
	if err := json.Unmarshal(res.Body.Bytes(), &eval); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if eval.Valid {
		t.Fatalf("expected empty evaluation, got %+v", eval)
	}
}

func TestStepRoundAndEvents(t *testing.T) {
	router, sim := testServer(t, true)
	before := len(sim.Events())

	res := do(router, http.MethodPost, "/rounds")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var body struct {
		Round  int            `json:"round"`
		Events []models.Event `json:"events"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Round != 1 {
		t.Fatalf("expected round 1, got %d", body.Round)
	}

	res = do(router, http.MethodGet, "/events")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var events []models.Event
	if err := json.Unmarshal(res.Body.Bytes(), &events); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(events) != before+len(body.Events) {
		t.Fatalf("expected %d events, got %d", before+len(body.Events), len(events))
	}

	if res := do(router, http.MethodGet, "/rounds"); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestStepRoundBeforeOpen(t *testing.T) {
	router, sim := testServer(t, false)

	if res := do(router, http.MethodPost, "/rounds"); res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
	if _, err := sim.Step(context.Background()); err == nil {
		t.Fatalf("expected step to fail before the task is opened")
	}
}
