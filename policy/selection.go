// Package policy holds the pluggable stages of a node update: which ledger
// transactions to build on (Selection), how to merge their models (Updating)
// and whether the result is worth publishing (Comparison).
package policy

import (
	"fmt"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"dag-learning/dag"
	"dag-learning/logger"
	"dag-learning/models"
	"dag-learning/modeltable"
	"dag-learning/reputation"
)

type SelectionType string

const (
	SelectionRandom    SelectionType = "random"
	SelectionAccuracy  SelectionType = "accuracy"
	SelectionFrobenius SelectionType = "frobenius"
)

// Owner is the view a policy has of the node it serves.
type Owner interface {
	ID() string
	CurrentModel() models.Model
	TestEvaluation(m models.Model) models.EvalResult
}

// Selection picks the transactions a node aggregates from.
type Selection interface {
	Type() SelectionType
	// Bind attaches the policy to its node; called once at node construction.
	Bind(owner Owner)
	// Update refreshes the candidate pool from the ledger.
	Update(g *dag.TxGraph)
	// Select returns the chosen transactions, possibly none.
	Select(g *dag.TxGraph) []models.Transaction
	// LastResult reports the scores, scan length and duration of the last
	// Select, index-aligned with its transactions.
	LastResult() reputation.Result
}

// SelectionConfig is shared by every selection variant.
type SelectionConfig struct {
	Count int
	// Window keeps only the most recent candidates; 0 keeps all.
	Window int
	// ExcludeOwn drops the node's own transactions from the pool.
	ExcludeOwn bool
	Options    reputation.Options
	Table      *modeltable.Table
	Rand       *rand.Rand
}

// NewSelection builds the variant called name.
func NewSelection(name SelectionType, cfg SelectionConfig) (Selection, error) {
	base := &pool{cfg: cfg}
	switch name {
	case SelectionRandom:
		return &RandomSelection{pool: base}, nil
	case SelectionAccuracy:
		return &AccuracySelection{pool: base}, nil
	case SelectionFrobenius:
		return &FrobeniusSelection{pool: base}, nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", name)
	}
}

// pool is the candidate set common to all variants.
type pool struct {
	cfg    SelectionConfig
	owner  Owner
	txs    []models.Transaction
	models []models.Model
	last   reputation.Result
}

func (p *pool) Bind(owner Owner) {
	p.owner = owner
}

func (p *pool) Update(g *dag.TxGraph) {
	var txs []models.Transaction
	seen := make(map[string]bool)
	for _, tx := range g.Transactions() {
		if tx.Type != models.TxSolve || seen[tx.ModelID] {
			continue
		}
		if p.cfg.ExcludeOwn && p.owner != nil && tx.Owner == p.owner.ID() {
			continue
		}
		if _, ok := p.cfg.Table.Get(tx.ModelID); !ok {
			continue
		}
		seen[tx.ModelID] = true
		txs = append(txs, tx)
	}

	if p.cfg.Window > 0 && len(txs) > p.cfg.Window {
		sort.SliceStable(txs, func(i, j int) bool {
			return txs[i].Timestamp > txs[j].Timestamp
		})
		txs = txs[:p.cfg.Window]
	}

	p.txs = txs
	p.last = reputation.Result{}
	p.models = make([]models.Model, len(txs))
	for i, tx := range txs {
		p.models[i], _ = p.cfg.Table.Get(tx.ModelID)
	}
}

// count clamps the requested count to the pool size.
func (p *pool) count() int {
	if p.cfg.Count < len(p.txs) {
		return p.cfg.Count
	}
	return len(p.txs)
}

func (p *pool) LastResult() reputation.Result {
	return p.last
}

// accuracy scores m on the owner's test set, 0 without an owner.
func (p *pool) accuracy(m models.Model) float64 {
	if p.owner == nil {
		return reputation.AccuracyScore(models.EvalResult{})
	}
	return reputation.AccuracyScore(p.owner.TestEvaluation(m))
}

func (p *pool) pick(res reputation.Result) []models.Transaction {
	p.last = res
	idx := res.Indexes
	out := make([]models.Transaction, len(idx))
	for i, j := range idx {
		out[i] = p.txs[j]
	}
	return out
}

func (p *pool) failed(kind SelectionType, err error) []models.Transaction {
	logger.Logger.Warn("Selection failed",
		zap.String("policy", string(kind)), zap.Int("pool", len(p.txs)), zap.Error(err))
	p.last = reputation.Result{}
	return nil
}

// RandomSelection draws candidates uniformly and scores the drawn ones.
type RandomSelection struct {
	*pool
}

func (s *RandomSelection) Type() SelectionType { return SelectionRandom }

func (s *RandomSelection) Select(g *dag.TxGraph) []models.Transaction {
	res, err := reputation.ByRandomWithAccuracy(s.cfg.Rand, s.models, s.count(), s.accuracy)
	if err != nil {
		return s.failed(s.Type(), err)
	}
	return s.pick(res)
}

// AccuracySelection keeps the candidates scoring best on the node's test set.
type AccuracySelection struct {
	*pool
}

func (s *AccuracySelection) Type() SelectionType { return SelectionAccuracy }

func (s *AccuracySelection) Select(g *dag.TxGraph) []models.Transaction {
	if s.owner == nil {
		return nil
	}
	res, err := reputation.ByAccuracy(s.cfg.Rand, s.models, s.count(), s.accuracy, s.cfg.Options)
	if err != nil {
		return s.failed(s.Type(), err)
	}
	return s.pick(res)
}

// FrobeniusSelection keeps the candidates whose weights are closest to the
// node's current model.
type FrobeniusSelection struct {
	*pool
}

func (s *FrobeniusSelection) Type() SelectionType { return SelectionFrobenius }

func (s *FrobeniusSelection) Select(g *dag.TxGraph) []models.Transaction {
	if s.owner == nil || s.owner.CurrentModel() == nil {
		return nil
	}
	base := s.owner.CurrentModel().Weights()
	res, err := reputation.ByDistance(s.cfg.Rand, s.models, s.count(), base, s.accuracy, s.cfg.Options)
	if err != nil {
		return s.failed(s.Type(), err)
	}
	return s.pick(res)
}

func sortedKeys(w models.Weights) []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
