package simulation_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"dag-learning/centroid"
	"dag-learning/config"
	"dag-learning/db"
	"dag-learning/models"
	"dag-learning/repository"
	"dag-learning/simulation"
)

func defaultConfig(t *testing.T, nodes int) config.Config {
	v := viper.New()
	config.SetDefaults(v)
	var cfg config.Config
	require.NoError(t, v.Unmarshal(&cfg))
	cfg.Simulation.Nodes = nodes
	cfg.Simulation.Topology = string(simulation.TopologyRing)
	cfg.Data.SamplesPerNode = 40
	return cfg
}

func build(t *testing.T, cfg config.Config, archive repository.EventRepositoryInterface) *simulation.Simulator {
	d := cfg.Data
	rng := rand.New(rand.NewSource(cfg.Simulation.Seed))
	task, err := centroid.NewTask("task", d.Classes, d.Features,
		centroid.Synthetic(rng, d.SamplesPerNode, d.Features, d.Classes, d.Spread))
	require.NoError(t, err)
	eval := centroid.Synthetic(rng, d.SamplesPerNode, d.Features, d.Classes, d.Spread)

	shards := make([]simulation.Shard, cfg.Simulation.Nodes)
	for i := range shards {
		ds := centroid.Synthetic(rng, d.SamplesPerNode, d.Features, d.Classes, d.Spread)
		test, train := centroid.Split(ds, d.TestFraction)
		shards[i] = simulation.Shard{Train: train, Test: test}
	}

	sim, err := simulation.Build(cfg, task, shards, eval, archive)
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })
	return sim
}

func hasID(txs []models.Transaction, id string) bool {
	for _, tx := range txs {
		if tx.ID == id {
			return true
		}
	}
	return false
}

func TestStepBeforeOpen(t *testing.T) {
	sim := build(t, defaultConfig(t, 3), nil)
	_, err := sim.Step(context.Background())
	require.True(t, errors.Is(err, simulation.ErrNotOpened))
}

func TestOpenTrainsEveryNode(t *testing.T) {
	sim := build(t, defaultConfig(t, 3), nil)
	openTx, err := sim.Open(0, 1)
	require.NoError(t, err)
	require.Equal(t, models.TxOpen, openTx.Type)

	for _, n := range sim.Registry().Nodes() {
		require.True(t, n.Ledger().HasTransaction(openTx))
		require.NotEmpty(t, n.ModelID())
		require.Equal(t, 3, n.Ledger().Len(), n.ID())
	}
	// task model plus one local model per node
	require.Equal(t, 4, sim.Table().Len())

	_, err = sim.Open(7, 1)
	require.Error(t, err)
}

func TestTransactionsAdvanceOneHopPerRound(t *testing.T) {
	sim := build(t, defaultConfig(t, 3), nil)
	_, err := sim.Open(0, 1)
	require.NoError(t, err)

	n0, n1 := sim.Registry().Get(0), sim.Registry().Get(1)
	solve, ok := n0.Ledger().GetTransactionByModelID(n0.ModelID())
	require.True(t, ok)

	_, err = sim.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sim.Round())
	require.Equal(t, int64(1), sim.Clock().Now())

	require.True(t, hasID(n1.PendingReceive(), solve.ID))
	require.False(t, n1.Ledger().HasTransaction(solve))

	_, err = sim.Step(context.Background())
	require.NoError(t, err)
	require.True(t, n1.Ledger().HasTransaction(solve))
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := defaultConfig(t, 4)
	cfg.Simulation.Topology = string(simulation.TopologyRandom)
	cfg.Simulation.Degree = 2

	runOnce := func() ([]models.EventType, [][]string) {
		sim := build(t, cfg, nil)
		_, err := sim.Open(0, cfg.Simulation.TxMakingRate)
		require.NoError(t, err)
		require.NoError(t, sim.Run(context.Background(), 4))

		var types []models.EventType
		for _, ev := range sim.Events() {
			types = append(types, ev.Type)
		}
		var ledgers [][]string
		for _, n := range sim.Registry().Nodes() {
			var ids []string
			for _, tx := range n.Ledger().Transactions() {
				ids = append(ids, tx.ID)
			}
			ledgers = append(ledgers, ids)
		}
		return types, ledgers
	}

	types1, ledgers1 := runOnce()
	types2, ledgers2 := runOnce()
	require.Equal(t, types1, types2)
	require.Equal(t, ledgers1, ledgers2)
}

func TestLedgersStayValid(t *testing.T) {
	cfg := defaultConfig(t, 5)
	cfg.Selection.Policy = "frobenius"
	cfg.Selection.OptimalStopping = true
	cfg.Selection.FilterNormalization = true
	cfg.Simulation.Byzantine = 1
	sim := build(t, cfg, nil)
	_, err := sim.Open(0, 1)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), 5))

	for _, n := range sim.Registry().Nodes() {
		require.NoError(t, n.Ledger().Validate(), n.ID())
	}
	require.True(t, sim.Registry().Get(4).IsByzantine())
	require.False(t, sim.Registry().Get(0).IsByzantine())
}

func TestCancelledContext(t *testing.T) {
	sim := build(t, defaultConfig(t, 3), nil)
	_, err := sim.Open(0, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.Step(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 0, sim.Round())
}

func TestEventsAreArchived(t *testing.T) {
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()
	archive := repository.NewEventRepository(ldb)

	sim := build(t, defaultConfig(t, 3), archive)
	_, err = sim.Open(0, 1)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), 2))

	stored, err := archive.GetAllEvents()
	require.NoError(t, err)
	require.Len(t, stored, len(sim.Events()))
	for i, ev := range sim.Events() {
		require.Equal(t, ev.Type, stored[i].Type)
	}
}

func TestTopologies(t *testing.T) {
	tests := []struct {
		name     string
		topology simulation.Topology
		degree   int
		nodes    int
		minPeers int
		maxPeers int
	}{
		{"ring", simulation.TopologyRing, 0, 4, 2, 2},
		{"complete", simulation.TopologyComplete, 0, 4, 3, 3},
		{"random", simulation.TopologyRandom, 2, 6, 2, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig(t, tc.nodes)
			cfg.Simulation.Topology = string(tc.topology)
			cfg.Simulation.Degree = tc.degree
			sim := build(t, cfg, nil)

			for _, n := range sim.Registry().Nodes() {
				adj := n.Adjacent()
				require.GreaterOrEqual(t, len(adj), tc.minPeers, n.ID())
				require.LessOrEqual(t, len(adj), tc.maxPeers, n.ID())
				require.NotContains(t, adj, n.Index())
				for _, idx := range adj {
					require.Contains(t, sim.Registry().Get(idx).Adjacent(), n.Index())
				}
			}
		})
	}
}

func TestBuildRejectsBadTopology(t *testing.T) {
	d := defaultConfig(t, 3).Data
	task, err := centroid.NewTask("task", d.Classes, d.Features, models.Dataset{})
	require.NoError(t, err)
	shards := make([]simulation.Shard, 3)

	cfg := defaultConfig(t, 3)
	cfg.Simulation.Topology = "star"
	_, err = simulation.Build(cfg, task, shards, models.Dataset{}, nil)
	require.Error(t, err)

	cfg.Simulation.Topology = string(simulation.TopologyRandom)
	cfg.Simulation.Degree = 3
	_, err = simulation.Build(cfg, task, shards, models.Dataset{}, nil)
	require.Error(t, err)

	cfg = defaultConfig(t, 3)
	cfg.Selection.Policy = "gossip"
	_, err = simulation.Build(cfg, task, shards, models.Dataset{}, nil)
	require.Error(t, err)
}

func TestClock(t *testing.T) {
	c := simulation.NewClock()
	require.Equal(t, int64(0), c.Now())
	require.Equal(t, int64(1), c.Advance())
	require.Equal(t, int64(1), c.Now())
}
