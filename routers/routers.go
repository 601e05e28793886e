package routers

import (
	"dag-learning/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes of the inspection API
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Lists every node with its current model and buffers
	r.HandleFunc("/nodes", h.ListNodes).Methods("GET")

	// Describes one node including the evaluation of its current model
	r.HandleFunc("/nodes/{node}", h.GetNode).Methods("GET")

	// Transactions of a node's ledger in insertion order
	r.HandleFunc("/nodes/{node}/transactions", h.ListTransactions).Methods("GET")
	r.HandleFunc("/nodes/{node}/transactions/{tx}", h.GetTransaction).Methods("GET")

	// Transactions nobody references yet
	r.HandleFunc("/nodes/{node}/tips", h.GetTips).Methods("GET")

	// Used for identifying the most important transactions including indirect approvals
	r.HandleFunc("/nodes/{node}/highest-cumulative-weight", h.GetHighestCumulativeWeight).Methods("GET")

	// Checks every transaction of the ledger reaches genesis
	r.HandleFunc("/nodes/{node}/validate", h.ValidateLedger).Methods("GET")

	// Model lookups against a node's ledger
	r.HandleFunc("/nodes/{node}/models/{model}/transaction", h.GetModelTransaction).Methods("GET")
	r.HandleFunc("/nodes/{node}/models/{model}/evaluation", h.GetModelEvaluation).Methods("GET")

	// Simulation event log
	r.HandleFunc("/events", h.ListEvents).Methods("GET")

	// Advances the simulation by one round
	r.HandleFunc("/rounds", h.StepRound).Methods("POST")
}
