package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// TxType tags what a transaction proposes.
type TxType string

const (
	TxGenesis TxType = "GENESIS"
	TxOpen    TxType = "OPEN"  // opens a task, always references genesis
	TxSolve   TxType = "SOLVE" // proposes a model update
)

// Reference points at a parent transaction together with the referencing
// node's evaluation of the parent's model. Eval may be unset.
type Reference struct {
	TxID string     `json:"tx_id"`
	Eval EvalResult `json:"eval"`
}

// Transaction is an immutable ledger record. Build it with NewTransaction and
// never modify it afterwards. References are only reachable through
// References, which returns a copy, so copies of a transaction never share
// them.
type Transaction struct {
	ID        string
	Type      TxType
	TaskID    string
	Owner     string
	ModelID   string
	Timestamp int64 // logical time at creation
	refs      []Reference
}

// txJSON is the wire and storage form of a Transaction.
type txJSON struct {
	ID        string      `json:"id"`
	Type      TxType      `json:"type"`
	TaskID    string      `json:"task_id"`
	Owner     string      `json:"owner"`
	ModelID   string      `json:"model_id"`
	Timestamp int64       `json:"timestamp"`
	Refs      []Reference `json:"references"`
}

// NewTransaction creates a transaction whose ID is derived from its content.
func NewTransaction(txType TxType, taskID, owner, modelID string, timestamp int64, refs []Reference) Transaction {
	tx := Transaction{
		Type:      txType,
		TaskID:    taskID,
		Owner:     owner,
		ModelID:   modelID,
		Timestamp: timestamp,
		refs:      append([]Reference(nil), refs...),
	}
	tx.ID = tx.hash()
	return tx
}

// NewGenesis returns the parentless root transaction.
func NewGenesis() Transaction {
	return NewTransaction(TxGenesis, "", "", "", 0, nil)
}

func (tx Transaction) hash() string {
	tx.ID = ""
	data, _ := json.Marshal(tx)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// References returns a copy of the parent references.
func (tx Transaction) References() []Reference {
	return append([]Reference(nil), tx.refs...)
}

// NumReferences is the number of parents.
func (tx Transaction) NumReferences() int {
	return len(tx.refs)
}

func (tx Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(txJSON{
		ID:        tx.ID,
		Type:      tx.Type,
		TaskID:    tx.TaskID,
		Owner:     tx.Owner,
		ModelID:   tx.ModelID,
		Timestamp: tx.Timestamp,
		Refs:      tx.refs,
	})
}

func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var w txJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*tx = Transaction{
		ID:        w.ID,
		Type:      w.Type,
		TaskID:    w.TaskID,
		Owner:     w.Owner,
		ModelID:   w.ModelID,
		Timestamp: w.Timestamp,
		refs:      w.Refs,
	}
	return nil
}

// ParentIDs lists the referenced transaction ids in order.
func (tx Transaction) ParentIDs() []string {
	ids := make([]string, len(tx.refs))
	for i, r := range tx.refs {
		ids[i] = r.TxID
	}
	return ids
}

// IsGenesis reports whether tx is the ledger root.
func (tx Transaction) IsGenesis() bool {
	return tx.Type == TxGenesis
}

// Meta is the flat description attached to TX_CREATED events.
func (tx Transaction) Meta() map[string]interface{} {
	return map[string]interface{}{
		"tx_id":      tx.ID,
		"type":       string(tx.Type),
		"task_id":    tx.TaskID,
		"owner":      tx.Owner,
		"model_id":   tx.ModelID,
		"timestamp":  tx.Timestamp,
		"references": tx.ParentIDs(),
	}
}
