package dag

import (
	"errors"
	"fmt"
	"sync"

	"dag-learning/db"
	"dag-learning/logger"
	"dag-learning/models"
	"dag-learning/repository"

	"go.uber.org/zap"
)

var (
	// ErrDanglingReference is returned when a transaction references a parent
	// the ledger does not hold.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrNoReferences is returned for a non-genesis transaction without parents.
	ErrNoReferences = errors.New("transaction has no references")
	// ErrSecondGenesis is returned when a foreign genesis is inserted.
	ErrSecondGenesis = errors.New("ledger already has a genesis")
	// ErrUnreachable is returned by Validate for a transaction whose
	// reference chain does not end at genesis.
	ErrUnreachable = errors.New("transaction not reachable from genesis")
)

// TxGraph is the append-only transaction DAG rooted at a genesis transaction.
type TxGraph struct {
	repo    repository.TransactionRepositoryInterface
	closer  func() error
	genesis models.Transaction
	evalSet models.Dataset
	order   []string // insertion order of transaction ids
	mux     sync.RWMutex
}

// NewTxGraph builds a ledger over repo and stores the genesis transaction.
func NewTxGraph(repo repository.TransactionRepositoryInterface) (*TxGraph, error) {
	g := &TxGraph{repo: repo, genesis: models.NewGenesis()}
	if err := repo.PutTransaction(g.genesis); err != nil {
		return nil, fmt.Errorf("store genesis: %w", err)
	}
	g.order = append(g.order, g.genesis.ID)
	return g, nil
}

// NewMemTxGraph builds a ledger on an in-memory LevelDB. Close releases it.
func NewMemTxGraph() (*TxGraph, error) {
	ldb, err := db.NewMemLevelDB()
	if err != nil {
		return nil, err
	}
	g, err := NewTxGraph(repository.NewTransactionRepository(ldb))
	if err != nil {
		ldb.Close()
		return nil, err
	}
	g.closer = ldb.Close
	return g, nil
}

// Close releases the storage owned by the ledger, if any.
func (g *TxGraph) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

// Genesis returns the root transaction.
func (g *TxGraph) Genesis() models.Transaction {
	return g.genesis
}

// SetEvalSet replaces the dataset used by EvaluateAndRecordModel.
func (g *TxGraph) SetEvalSet(ds models.Dataset) {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.evalSet = ds
}

// EvalSet returns the ledger's evaluation dataset.
func (g *TxGraph) EvalSet() models.Dataset {
	g.mux.RLock()
	defer g.mux.RUnlock()
	return g.evalSet
}

// HasTransaction reports whether tx is stored, by id.
func (g *TxGraph) HasTransaction(tx models.Transaction) bool {
	return g.HasTransactionID(tx.ID)
}

// HasTransactionID reports whether a transaction with id is stored.
func (g *TxGraph) HasTransactionID(id string) bool {
	g.mux.RLock()
	defer g.mux.RUnlock()
	return g.has(id)
}

func (g *TxGraph) has(id string) bool {
	ok, err := g.repo.HasTransaction(id)
	if err != nil {
		logger.Logger.Warn("Lookup failed", zap.String("tx_id", id), zap.Error(err))
		return false
	}
	return ok
}

// AddTransaction inserts tx if absent. Inserting a stored transaction is a
// no-op. Every parent must already be in the ledger.
func (g *TxGraph) AddTransaction(tx models.Transaction) error {
	g.mux.Lock()
	defer g.mux.Unlock()

	if g.has(tx.ID) {
		return nil
	}
	if tx.IsGenesis() {
		return ErrSecondGenesis
	}
	if tx.NumReferences() == 0 {
		return fmt.Errorf("%s: %w", tx.ID, ErrNoReferences)
	}

	// check all parents exist
	for _, pid := range tx.ParentIDs() {
		if !g.has(pid) {
			return fmt.Errorf("parent %s of %s: %w", pid, tx.ID, ErrDanglingReference)
		}
	}

	if err := g.repo.PutTransaction(tx); err != nil {
		return err
	}
	g.order = append(g.order, tx.ID)

	if tx.ModelID == "" {
		return nil
	}
	if _, err := g.repo.GetTxIDByModel(tx.ModelID); err == nil {
		// the first transaction publishing a model keeps the index
		return nil
	}
	if err := g.repo.PutModelIndex(tx.ModelID, tx.ID); err != nil {
		logger.Logger.Warn("Failed indexing model",
			zap.String("model_id", tx.ModelID), zap.String("tx_id", tx.ID), zap.Error(err))
	}
	return nil
}

// GetTransaction looks a transaction up by id.
func (g *TxGraph) GetTransaction(id string) (models.Transaction, bool) {
	g.mux.RLock()
	defer g.mux.RUnlock()
	tx, err := g.repo.GetTransaction(id)
	if err != nil {
		return models.Transaction{}, false
	}
	return tx, true
}

// GetTransactionByModelID returns the transaction that published modelID.
func (g *TxGraph) GetTransactionByModelID(modelID string) (models.Transaction, bool) {
	g.mux.RLock()
	defer g.mux.RUnlock()
	txID, err := g.repo.GetTxIDByModel(modelID)
	if err != nil {
		return models.Transaction{}, false
	}
	tx, err := g.repo.GetTransaction(txID)
	if err != nil {
		return models.Transaction{}, false
	}
	return tx, true
}

// EvaluateAndRecordModel evaluates model on the ledger's evaluation set and
// records the result. The last recorded result for a model id wins.
func (g *TxGraph) EvaluateAndRecordModel(model models.Model) error {
	if model == nil {
		return nil
	}
	res := model.Evaluate(g.EvalSet())

	g.mux.Lock()
	defer g.mux.Unlock()
	return g.repo.PutEvaluation(model.ID(), res)
}

// GetEvaluationResult returns the latest recorded evaluation of modelID, or
// the empty result.
func (g *TxGraph) GetEvaluationResult(modelID string) models.EvalResult {
	g.mux.RLock()
	defer g.mux.RUnlock()
	res, err := g.repo.GetEvaluation(modelID)
	if err != nil {
		return models.EvalResult{}
	}
	return res
}

// Transactions returns every transaction in insertion order, genesis first.
func (g *TxGraph) Transactions() []models.Transaction {
	g.mux.RLock()
	defer g.mux.RUnlock()
	txs := make([]models.Transaction, 0, len(g.order))
	for _, id := range g.order {
		tx, err := g.repo.GetTransaction(id)
		if err != nil {
			logger.Logger.Warn("Stored transaction missing", zap.String("tx_id", id), zap.Error(err))
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

// Len returns the number of stored transactions including genesis.
func (g *TxGraph) Len() int {
	g.mux.RLock()
	defer g.mux.RUnlock()
	return len(g.order)
}
