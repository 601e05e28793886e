package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dag-learning/logger"
	"dag-learning/node"
	"dag-learning/simulation"
)

// Handler contains the HTTP handlers for inspecting a running simulation
type Handler struct {
	Sim *simulation.Simulator
}

// NewHandler creates and returns a new Handler instance
func NewHandler(s *simulation.Simulator) *Handler {
	return &Handler{Sim: s}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// lookupNode resolves the {node} path variable or writes a 404
func (h *Handler) lookupNode(w http.ResponseWriter, r *http.Request) (*node.Node, bool) {
	id := mux.Vars(r)["node"]
	n, ok := h.Sim.Registry().Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown node "+id)
		return nil, false
	}
	return n, true
}

// ListNodes handles GET requests listing every node
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := h.Sim.Registry().Nodes()
	metas := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		metas = append(metas, n.Meta())
	}
	writeJSON(w, http.StatusOK, metas)
}

// GetNode handles GET requests describing one node
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookupNode(w, r)
	if !ok {
		return
	}
	meta := n.Meta()
	meta["current_eval"] = n.TestEvaluation(n.CurrentModel())
	if tx, found := n.Ledger().GetTransactionByModelID(n.ModelID()); found {
		meta["current_tx"] = tx
	}
	writeJSON(w, http.StatusOK, meta)
}

// ListTransactions handles GET requests for a node's ledger in insertion order
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookupNode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, n.Ledger().Transactions())
}

// GetTransaction handles GET requests for one transaction of a node's ledger
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookupNode(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["tx"]
	tx, found := n.Ledger().GetTransaction(id)
	if !found {
		writeError(w, http.StatusNotFound, "unknown transaction "+id)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetTips handles GET requests for the unreferenced transactions of a ledger
func (h *Handler) GetTips(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookupNode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, n.Ledger().Tips())
}

// GetHighestCumulativeWeight handles GET requests for the most approved transaction
func (h *Handler) GetHighestCumulativeWeight(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookupNode(w, r)
	if !ok {
		return
	}
	tx, weight, err := n.Ledger().HighestCumulativeWeight()
	if err != nil {
		logger.Logger.Error("Failed to get highest cumulative weight", zap.Error(err))
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":           "highest cumulative weight transaction",
		"transaction":       tx,
		"cumulative_weight": weight,
	})
}

// ValidateLedger handles GET requests checking every transaction reaches genesis
func (h *Handler) ValidateLedger(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookupNode(w, r)
	if !ok {
		return
	}
	if err := n.Ledger().Validate(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "size": n.Ledger().Len()})
}

// GetModelTransaction handles GET requests for the transaction publishing a model
func (h *Handler) GetModelTransaction(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookupNode(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["model"]
	tx, found := n.Ledger().GetTransactionByModelID(id)
	if !found {
		writeError(w, http.StatusNotFound, "no transaction for model "+id)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetModelEvaluation handles GET requests for the evaluation a ledger recorded for a model
func (h *Handler) GetModelEvaluation(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookupNode(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["model"]
	writeJSON(w, http.StatusOK, n.Ledger().GetEvaluationResult(id))
}

// ListEvents handles GET requests for the event log
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Sim.Events())
}

// StepRound handles POST requests advancing the simulation by one round
func (h *Handler) StepRound(w http.ResponseWriter, r *http.Request) {
	events, err := h.Sim.Step(r.Context())
	if err != nil {
		logger.Logger.Error("Failed to run round", zap.Error(err))
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"round":  h.Sim.Round(),
		"events": events,
	})
}
