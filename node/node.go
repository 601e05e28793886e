// Package node implements a participant of the learning network: it gossips
// transactions with its adjacent peers, keeps its own ledger, and publishes
// aggregated models when they beat its current one.
package node

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"dag-learning/dag"
	"dag-learning/logger"
	"dag-learning/models"
	"dag-learning/modeltable"
	"dag-learning/policy"
)

// Clock is the shared logical time. Nodes only read it.
type Clock interface {
	Now() int64
}

// Phase is the position of a node inside a round.
type Phase int

const (
	Idle Phase = iota
	Receiving
	Selecting
	Publishing
)

func (p Phase) String() string {
	switch p {
	case Receiving:
		return "RECEIVING"
	case Selecting:
		return "SELECTING"
	case Publishing:
		return "PUBLISHING"
	default:
		return "IDLE"
	}
}

var errMissingDependency = errors.New("node config is missing a dependency")

// Config carries everything a node is built from.
type Config struct {
	ID       string
	TaskID   string
	EvalRate float64
	TrainSet models.Dataset
	TestSet  models.Dataset

	Ledger     *dag.TxGraph
	Table      *modeltable.Table
	Selection  policy.Selection
	Updating   policy.Updating
	Comparison policy.Comparison
	Byzantine  *models.Byzantine // nil for honest nodes
	Clock      Clock
	Rand       *rand.Rand
}

// Node is one simulated participant.
type Node struct {
	id       string
	index    int
	taskID   string
	evalRate float64

	ledger     *dag.TxGraph
	table      *modeltable.Table
	selection  policy.Selection
	updating   policy.Updating
	comparison policy.Comparison
	byzantine  *models.Byzantine
	clock      Clock
	rng        *rand.Rand
	log        *zap.Logger

	mu       sync.Mutex // guards everything below
	phase    Phase
	adjacent []int
	modelID  string
	train    models.Dataset
	test     models.Dataset
	cache    map[string]models.EvalResult
	sendBuf  []models.Transaction
	recvBuf  []models.Transaction
}

// New builds a node and binds its selection policy to it.
func New(cfg Config) (*Node, error) {
	if cfg.Ledger == nil || cfg.Table == nil || cfg.Selection == nil ||
		cfg.Updating == nil || cfg.Comparison == nil || cfg.Clock == nil || cfg.Rand == nil {
		return nil, fmt.Errorf("node %q: %w", cfg.ID, errMissingDependency)
	}
	n := &Node{
		id:         cfg.ID,
		index:      -1,
		taskID:     cfg.TaskID,
		evalRate:   cfg.EvalRate,
		ledger:     cfg.Ledger,
		table:      cfg.Table,
		selection:  cfg.Selection,
		updating:   cfg.Updating,
		comparison: cfg.Comparison,
		byzantine:  cfg.Byzantine,
		clock:      cfg.Clock,
		rng:        cfg.Rand,
		log:        logger.Logger.With(zap.String("node_id", cfg.ID)),
		train:      cfg.TrainSet,
		test:       cfg.TestSet,
		cache:      make(map[string]models.EvalResult),
	}
	n.selection.Bind(n)
	return n, nil
}

func (n *Node) ID() string { return n.id }

// Index is the node's position in its registry, -1 before registration.
func (n *Node) Index() int { return n.index }

func (n *Node) Ledger() *dag.TxGraph { return n.ledger }

func (n *Node) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

func (n *Node) setPhase(p Phase) {
	n.mu.Lock()
	n.phase = p
	n.mu.Unlock()
}

// Adjacent returns the registry indexes of the node's peers.
func (n *Node) Adjacent() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.adjacent...)
}

func (n *Node) addAdjacent(idx int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, a := range n.adjacent {
		if a == idx {
			return
		}
	}
	n.adjacent = append(n.adjacent, idx)
}

// ModelID is the id of the current model, empty when unset.
func (n *Node) ModelID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.modelID
}

// CurrentModel resolves the current model through the model table.
func (n *Node) CurrentModel() models.Model {
	id := n.ModelID()
	if id == "" {
		return nil
	}
	m, _ := n.table.Get(id)
	return m
}

func (n *Node) IsByzantine() bool {
	return n.byzantine != nil
}

// ByzantineType is empty for honest nodes.
func (n *Node) ByzantineType() models.ByzantineType {
	if n.byzantine == nil {
		return ""
	}
	return n.byzantine.Type
}

// DataSet returns the train, test and ledger evaluation sets.
func (n *Node) DataSet() (train, test, eval models.Dataset) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.train, n.test, n.ledger.EvalSet()
}

// SetDataSet replaces the node's data and drops its evaluation cache.
func (n *Node) SetDataSet(train, test, eval models.Dataset) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.train, n.test = train, test
	n.ledger.SetEvalSet(eval)
	n.cache = make(map[string]models.EvalResult)
}

// TestEvaluation evaluates m on the node's test set. Each model id is
// evaluated at most once per dataset; a nil model yields the empty result.
func (n *Node) TestEvaluation(m models.Model) models.EvalResult {
	if m == nil {
		return models.EvalResult{}
	}
	n.mu.Lock()
	if res, ok := n.cache[m.ID()]; ok {
		n.mu.Unlock()
		return res
	}
	test := n.test
	n.mu.Unlock()

	res := m.Evaluate(test)

	n.mu.Lock()
	n.cache[m.ID()] = res
	n.mu.Unlock()
	return res
}

// Meta describes the node for inspection.
func (n *Node) Meta() map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return map[string]interface{}{
		"id":               n.id,
		"byzantine":        n.byzantine != nil,
		"byzantine_type":   string(n.ByzantineType()),
		"adjacent_nodes":   append([]int(nil), n.adjacent...),
		"current_model_id": n.modelID,
		"train_size":       n.train.Len(),
		"test_size":        n.test.Len(),
		"eval_rate":        n.evalRate,
		"phase":            n.phase.String(),
		"pending_send":     len(n.sendBuf),
		"pending_receive":  len(n.recvBuf),
	}
}

func (n *Node) uploadModel(m models.Model) (models.Event, error) {
	if err := n.table.Put(n.id, m); err != nil {
		return models.Event{}, err
	}
	n.mu.Lock()
	n.modelID = m.ID()
	n.mu.Unlock()

	n.log.Debug("Model uploaded", zap.String("model_id", m.ID()))
	return models.NewEvent(models.ModelUploaded, map[string]interface{}{
		"node_id":  n.id,
		"model_id": m.ID(),
		"history":  m.History(),
	}), nil
}

func (n *Node) makeNewTransaction(txType models.TxType, taskID, modelID string, refs []models.Reference) (models.Transaction, error) {
	tx := models.NewTransaction(txType, taskID, n.id, modelID, n.clock.Now(), refs)
	if err := n.ledger.AddTransaction(tx); err != nil {
		return models.Transaction{}, err
	}
	return tx, nil
}
