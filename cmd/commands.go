package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"dag-learning/centroid"
	"dag-learning/config"
	"dag-learning/db"
	"dag-learning/handlers"
	"dag-learning/logger"
	"dag-learning/models"
	"dag-learning/repository"
	"dag-learning/routers"
	"dag-learning/simulation"
)

var (
	configFile string
	cfg        config.Config
)

// NewRootCmd returns the dagsim command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:              "dagsim",
		Short:            "DAG ledger collaborative learning simulator",
		TraverseChildren: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "yaml config file")
	root.PersistentFlags().String("log", "info", "debug, info, warn, error")
	root.PersistentFlags().Int("nodes", 10, "Number of nodes")
	root.PersistentFlags().Int("rounds", 20, "Number of rounds")
	root.PersistentFlags().Int64("seed", 950327, "Random seed")
	root.PersistentFlags().String("selection", "accuracy", "random, accuracy, frobenius")
	root.PersistentFlags().Bool("optimal-stopping", false, "Stop ranking early, secretary-problem style")

	root.AddCommand(newRunCmd(), newServeCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Short:   "Run the simulation and print a summary",
		PreRunE: loadConfig,
		RunE:    runSimulation,
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Open the task and serve the inspection API, rounds advance on POST /rounds",
		PreRunE: loadConfig,
		RunE:    serve,
	}
	cmd.Flags().Int("port", 8080, "HTTP port")
	return cmd
}

// Bind all flags and read the config into viper
func loadConfig(cmd *cobra.Command, args []string) error {
	v := viper.New()
	binds := map[string]string{
		"log.level":                  "log",
		"simulation.nodes":           "nodes",
		"simulation.rounds":          "rounds",
		"simulation.seed":            "seed",
		"selection.policy":           "selection",
		"selection.optimal_stopping": "optimal-stopping",
		"server.port":                "port",
	}
	for key, flag := range binds {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	var err error
	cfg, err = config.Load(v, configFile)
	if err != nil {
		return err
	}

	if cfg.Log.AppLogFile != "" {
		err = logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level)
	} else {
		err = logger.InitConsole(cfg.Log.Level)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// setup builds the simulator, opens the task on node 0 and returns a closer
func setup() (*simulation.Simulator, func(), error) {
	rng := rand.New(rand.NewSource(cfg.Simulation.Seed))
	d := cfg.Data

	ref := centroid.Synthetic(rng, d.SamplesPerNode, d.Features, d.Classes, d.Spread)
	eval := centroid.Synthetic(rng, d.SamplesPerNode, d.Features, d.Classes, d.Spread)
	task, err := centroid.NewTask("task-0", d.Classes, d.Features, ref)
	if err != nil {
		return nil, nil, err
	}

	shards := make([]simulation.Shard, cfg.Simulation.Nodes)
	for i := range shards {
		ds := centroid.Synthetic(rng, d.SamplesPerNode, d.Features, d.Classes, d.Spread)
		test, train := centroid.Split(ds, d.TestFraction)
		shards[i] = simulation.Shard{Train: train, Test: test}
	}

	var (
		archive repository.EventRepositoryInterface
		closers []func() error
	)
	if cfg.Events.Path != "" {
		ldb, err := db.NewLevelDB(cfg.Events.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open event archive: %w", err)
		}
		archive = repository.NewEventRepository(ldb)
		closers = append(closers, ldb.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Logger.Warn("Close failed", zap.Error(err))
			}
		}
	}

	sim, err := simulation.Build(cfg, task, shards, eval, archive)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, sim.Close)

	if _, err := sim.Open(0, cfg.Simulation.TxMakingRate); err != nil {
		closeAll()
		return nil, nil, err
	}
	return sim, closeAll, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	sim, closeAll, err := setup()
	if err != nil {
		return err
	}
	defer closeAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Logger.Info("Starting simulation",
		zap.Int("nodes", cfg.Simulation.Nodes), zap.Int("rounds", cfg.Simulation.Rounds),
		zap.String("selection", cfg.Selection.Policy))
	if err := sim.Run(ctx, cfg.Simulation.Rounds); err != nil {
		return err
	}

	counts := make(map[models.EventType]int)
	var (
		scanned int
		elapsed float64
	)
	for _, ev := range sim.Events() {
		counts[ev.Type]++
		if ev.Type == models.ModelSelected {
			s, _ := ev.Meta["scanned"].(int)
			e, _ := ev.Meta["elapsed_seconds"].(float64)
			scanned += s
			elapsed += e
		}
	}
	for _, n := range sim.Registry().Nodes() {
		res := n.TestEvaluation(n.CurrentModel())
		fmt.Printf("%-8s byzantine=%-5v ledger=%-4d model=%-14s accuracy=%.3f\n",
			n.ID(), n.IsByzantine(), n.Ledger().Len(), n.ModelID(), res.Accuracy)
	}
	for _, t := range []models.EventType{
		models.InitLocalTrain, models.TxReceived, models.TxSent, models.ModelSelected,
		models.CompareSatisfied, models.ModelUploaded, models.TxCreated,
	} {
		fmt.Printf("%-18s %d\n", t, counts[t])
	}
	if n := counts[models.ModelSelected]; n > 0 {
		fmt.Printf("selection          scanned=%.2f elapsed=%.6fs (mean per call)\n",
			float64(scanned)/float64(n), elapsed/float64(n))
	}
	return nil
}

func serve(cmd *cobra.Command, args []string) error {
	sim, closeAll, err := setup()
	if err != nil {
		return err
	}
	defer closeAll()

	h := handlers.NewHandler(sim)
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)

	// HTTP Server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Logger.Info("Server stopped", zap.Error(err))
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")
	return srv.Close()
}
