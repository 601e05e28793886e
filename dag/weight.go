package dag

import (
	"errors"

	"dag-learning/models"
)

// children maps each transaction id to the ids referencing it.
func children(txs []models.Transaction) map[string][]string {
	ch := make(map[string][]string)
	for _, tx := range txs {
		for _, pid := range tx.ParentIDs() {
			ch[pid] = append(ch[pid], tx.ID)
		}
	}
	return ch
}

// Tips returns the transactions nobody references yet, in insertion order.
func (g *TxGraph) Tips() []models.Transaction {
	txs := g.Transactions()
	ch := children(txs)
	var tips []models.Transaction
	for _, tx := range txs {
		if len(ch[tx.ID]) == 0 {
			tips = append(tips, tx)
		}
	}
	return tips
}

// CumulativeWeights counts, for every transaction, how many distinct
// transactions approve it directly or indirectly.
func (g *TxGraph) CumulativeWeights() map[string]int {
	txs := g.Transactions()
	ch := children(txs)

	// compute descendant sets with memoized DFS
	desc := make(map[string]map[string]struct{}, len(txs))
	var walk func(id string) map[string]struct{}
	walk = func(id string) map[string]struct{} {
		if d, ok := desc[id]; ok {
			return d
		}
		d := make(map[string]struct{})
		desc[id] = d
		for _, c := range ch[id] {
			d[c] = struct{}{}
			for k := range walk(c) {
				d[k] = struct{}{}
			}
		}
		return d
	}

	weights := make(map[string]int, len(txs))
	for _, tx := range txs {
		weights[tx.ID] = len(walk(tx.ID))
	}
	return weights
}

// HighestCumulativeWeight returns the non-genesis transaction with the most
// approvals, earliest inserted on ties.
func (g *TxGraph) HighestCumulativeWeight() (models.Transaction, int, error) {
	weights := g.CumulativeWeights()
	var (
		best  models.Transaction
		found bool
	)
	for _, tx := range g.Transactions() {
		if tx.IsGenesis() {
			continue
		}
		if !found || weights[tx.ID] > weights[best.ID] {
			best, found = tx, true
		}
	}
	if !found {
		return models.Transaction{}, 0, errors.New("no transactions besides genesis")
	}
	return best, weights[best.ID], nil
}

// Validate checks that every stored transaction reaches genesis through its
// reference chain. It reads the whole store, including rows written
// without going through AddTransaction.
func (g *TxGraph) Validate() error {
	g.mux.RLock()
	txs, err := g.repo.GetAllTransactions()
	g.mux.RUnlock()
	if err != nil {
		return err
	}
	byID := make(map[string]models.Transaction, len(txs))
	for _, tx := range txs {
		byID[tx.ID] = tx
	}

	// reaches only holds settled answers. A false reached through a node
	// already on the walk (cut) depends on that node and is not cached.
	reaches := map[string]bool{g.genesis.ID: true}
	onPath := make(map[string]bool)
	var visit func(id string) (reached, cut bool)
	visit = func(id string) (bool, bool) {
		if r, ok := reaches[id]; ok {
			return r, false
		}
		if onPath[id] {
			return false, true
		}
		tx, ok := byID[id]
		if !ok {
			reaches[id] = false
			return false, false
		}
		onPath[id] = true
		defer delete(onPath, id)

		cut := false
		for _, pid := range tx.ParentIDs() {
			r, c := visit(pid)
			if r {
				reaches[id] = true
				return true, false
			}
			cut = cut || c
		}
		if !cut {
			reaches[id] = false
		}
		return false, cut
	}

	for _, tx := range txs {
		if r, _ := visit(tx.ID); !r {
			return &UnreachableError{TxID: tx.ID}
		}
	}
	return nil
}

// UnreachableError names the transaction that failed validation.
type UnreachableError struct {
	TxID string
}

func (e *UnreachableError) Error() string {
	return "transaction " + e.TxID + ": " + ErrUnreachable.Error()
}

func (e *UnreachableError) Unwrap() error {
	return ErrUnreachable
}
