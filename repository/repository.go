package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"dag-learning/db"
	"dag-learning/models"
)

// ErrNotFound is returned when a key is absent from the store
var ErrNotFound = errors.New("not found")

const (
	txPrefix    = "tx:"
	modelPrefix = "model:"
	evalPrefix  = "eval:"
	eventPrefix = "event:"
)

// It abstracts the storage layer from the ledger logic
type TransactionRepositoryInterface interface {
	PutTransaction(tx models.Transaction) error
	GetTransaction(id string) (models.Transaction, error)
	HasTransaction(id string) (bool, error)
	GetAllTransactions() ([]models.Transaction, error)
	PutModelIndex(modelID, txID string) error
	GetTxIDByModel(modelID string) (string, error)
	PutEvaluation(modelID string, res models.EvalResult) error
	GetEvaluation(modelID string) (models.EvalResult, error)
}

// EventRepositoryInterface archives the simulation event log
type EventRepositoryInterface interface {
	PutEvent(seq uint64, ev models.Event) error
	GetAllEvents() ([]models.Event, error)
}

// TransactionRepository implements the TransactionRepositoryInterface using LevelDB as the storage backend
type TransactionRepository struct {
	db *db.LevelDB
}

// NewTransactionRepository creates and returns a new TransactionRepository instance
func NewTransactionRepository(db *db.LevelDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// PutTransaction stores a transaction keyed by its id
func (r *TransactionRepository) PutTransaction(tx models.Transaction) error {
	return r.putJSON(txPrefix+tx.ID, tx)
}

// GetTransaction retrieves a transaction by its id
func (r *TransactionRepository) GetTransaction(id string) (models.Transaction, error) {
	var tx models.Transaction
	err := r.getJSON(txPrefix+id, &tx)
	return tx, err
}

// HasTransaction reports whether a transaction id is stored
func (r *TransactionRepository) HasTransaction(id string) (bool, error) {
	return r.db.Has([]byte(txPrefix + id))
}

// GetAllTransactions retrieves every stored transaction in key order
func (r *TransactionRepository) GetAllTransactions() ([]models.Transaction, error) {
	iter := r.db.NewPrefixIterator([]byte(txPrefix))
	defer iter.Release()

	var txs []models.Transaction
	for iter.Next() {
		var tx models.Transaction
		if err := json.Unmarshal(iter.Value(), &tx); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, iter.Error()
}

// PutModelIndex maps a model id to the transaction that published it
func (r *TransactionRepository) PutModelIndex(modelID, txID string) error {
	return r.db.Put([]byte(modelPrefix+modelID), []byte(txID))
}

// GetTxIDByModel resolves the transaction id recorded for a model id
func (r *TransactionRepository) GetTxIDByModel(modelID string) (string, error) {
	data, err := r.db.Get([]byte(modelPrefix + modelID))
	if err != nil {
		return "", notFound(err, modelPrefix+modelID)
	}
	return string(data), nil
}

// PutEvaluation records the latest evaluation of a model, overwriting any previous one
func (r *TransactionRepository) PutEvaluation(modelID string, res models.EvalResult) error {
	return r.putJSON(evalPrefix+modelID, res)
}

// GetEvaluation retrieves the latest recorded evaluation of a model
func (r *TransactionRepository) GetEvaluation(modelID string) (models.EvalResult, error) {
	var res models.EvalResult
	err := r.getJSON(evalPrefix+modelID, &res)
	return res, err
}

func (r *TransactionRepository) putJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.db.Put([]byte(key), data)
}

func (r *TransactionRepository) getJSON(key string, v interface{}) error {
	data, err := r.db.Get([]byte(key))
	if err != nil {
		return notFound(err, key)
	}
	return json.Unmarshal(data, v)
}

func notFound(err error, key string) error {
	if db.IsNotFound(err) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return err
}

// EventRepository implements the EventRepositoryInterface using LevelDB
type EventRepository struct {
	db *db.LevelDB
}

// NewEventRepository creates and returns a new EventRepository instance
func NewEventRepository(db *db.LevelDB) *EventRepository {
	return &EventRepository{db: db}
}

// PutEvent stores an event under its sequence number
func (r *EventRepository) PutEvent(seq uint64, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%020d", eventPrefix, seq)
	return r.db.Put([]byte(key), data)
}

// GetAllEvents returns the archived events in sequence order
func (r *EventRepository) GetAllEvents() ([]models.Event, error) {
	iter := r.db.NewPrefixIterator([]byte(eventPrefix))
	defer iter.Release()

	var events []models.Event
	for iter.Next() {
		var ev models.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, iter.Error()
}
