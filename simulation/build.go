package simulation

import (
	"fmt"
	"math/rand"

	"dag-learning/config"
	"dag-learning/dag"
	"dag-learning/models"
	"dag-learning/modeltable"
	"dag-learning/node"
	"dag-learning/policy"
	"dag-learning/repository"
	"dag-learning/reputation"
)

// Shard is the local data of one node.
type Shard struct {
	Train models.Dataset
	Test  models.Dataset
}

// Build creates one node per shard, each with its own in-memory ledger and a
// random source derived from the configured seed, and wires the topology.
// The last simulation.byzantine nodes are adversarial.
func Build(cfg config.Config, task models.Task, shards []Shard, eval models.Dataset, archive repository.EventRepositoryInterface) (*Simulator, error) {
	sim := New(task, modeltable.New(), NewClock(), archive)

	comparison, err := newComparison(cfg.Comparison)
	if err != nil {
		return nil, err
	}

	for i, shard := range shards {
		rng := rand.New(rand.NewSource(cfg.Simulation.Seed + int64(i) + 1))

		ledger, err := dag.NewMemTxGraph()
		if err != nil {
			sim.Close()
			return nil, err
		}
		ledger.SetEvalSet(eval)

		selection, err := policy.NewSelection(policy.SelectionType(cfg.Selection.Policy), policy.SelectionConfig{
			Count:      cfg.Selection.Count,
			Window:     cfg.Selection.Window,
			ExcludeOwn: cfg.Selection.ExcludeOwn,
			Options: reputation.Options{
				OptimalStopping:     cfg.Selection.OptimalStopping,
				FilterNormalization: cfg.Selection.FilterNormalization,
				ReturnAccuracy:      cfg.Selection.ReturnAccuracy,
			},
			Table: sim.table,
			Rand:  rng,
		})
		if err != nil {
			ledger.Close()
			sim.Close()
			return nil, err
		}

		var byz *models.Byzantine
		if i >= len(shards)-cfg.Simulation.Byzantine {
			byz = &models.Byzantine{Type: models.ByzantineType(cfg.Simulation.ByzantineType)}
		}

		n, err := node.New(node.Config{
			ID:         fmt.Sprintf("node-%d", i),
			TaskID:     task.ID(),
			EvalRate:   cfg.Node.EvalRate,
			TrainSet:   shard.Train,
			TestSet:    shard.Test,
			Ledger:     ledger,
			Table:      sim.table,
			Selection:  selection,
			Updating:   policy.FedAvg{},
			Comparison: comparison,
			Byzantine:  byz,
			Clock:      sim.clock,
			Rand:       rng,
		})
		if err != nil {
			ledger.Close()
			sim.Close()
			return nil, err
		}
		if _, err := sim.reg.Add(n); err != nil {
			ledger.Close()
			sim.Close()
			return nil, err
		}
	}

	topoRng := rand.New(rand.NewSource(cfg.Simulation.Seed))
	if err := Wire(sim.reg, Topology(cfg.Simulation.Topology), cfg.Simulation.Degree, topoRng); err != nil {
		sim.Close()
		return nil, err
	}
	return sim, nil
}

func newComparison(cfg config.ComparisonConfig) (policy.Comparison, error) {
	param := cfg.Margin
	if policy.ComparisonType(cfg.Policy) == policy.ComparisonStatistical {
		param = cfg.Confidence
	}
	return policy.NewComparison(policy.ComparisonType(cfg.Policy), param)
}

// Close releases every node's ledger.
func (s *Simulator) Close() error {
	var first error
	for _, n := range s.reg.Nodes() {
		if err := n.Ledger().Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
