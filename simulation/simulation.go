// Package simulation drives rounds over a set of nodes. Each round runs the
// RECEIVING, SELECTING and PUBLISHING phases on every node, with a barrier
// between phases, so that a transaction sent in round r is only processed by
// a peer in round r+1.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dag-learning/logger"
	"dag-learning/models"
	"dag-learning/modeltable"
	"dag-learning/node"
	"dag-learning/repository"
)

var ErrNotOpened = errors.New("task has not been opened")

// Simulator owns the node registry, the logical clock and the event log.
type Simulator struct {
	reg     *node.Registry
	clock   *Clock
	table   *modeltable.Table
	task    models.Task
	archive repository.EventRepositoryInterface

	stepMu sync.Mutex // one round at a time

	mu     sync.Mutex
	events []models.Event
	round  int
	openTx *models.Transaction
}

// New builds an empty simulator. archive may be nil.
func New(task models.Task, table *modeltable.Table, clock *Clock, archive repository.EventRepositoryInterface) *Simulator {
	return &Simulator{
		reg:     node.NewRegistry(),
		clock:   clock,
		table:   table,
		task:    task,
		archive: archive,
	}
}

func (s *Simulator) Registry() *node.Registry { return s.reg }
func (s *Simulator) Clock() *Clock            { return s.clock }
func (s *Simulator) Table() *modeltable.Table { return s.table }
func (s *Simulator) Task() models.Task        { return s.task }

// Round returns the number of completed rounds.
func (s *Simulator) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

// Events returns a copy of the event log.
func (s *Simulator) Events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...)
}

func (s *Simulator) record(evs []models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range evs {
		if s.archive != nil {
			if err := s.archive.PutEvent(uint64(len(s.events)), ev); err != nil {
				logger.Logger.Warn("Failed archiving event", zap.String("type", string(ev.Type)), zap.Error(err))
			}
		}
		s.events = append(s.events, ev)
	}
}

// Open opens the task on the node at origin and lets every node train its
// initial local model.
func (s *Simulator) Open(origin int, txMakingRate float64) (models.Transaction, error) {
	n := s.reg.Get(origin)
	if n == nil {
		return models.Transaction{}, fmt.Errorf("no node at index %d", origin)
	}
	openTx, err := n.OpenTask(s.task)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("open task: %w", err)
	}
	logger.Logger.Info("Task opened", zap.String("task_id", s.task.ID()), zap.String("tx_id", openTx.ID))

	for _, nd := range s.reg.Nodes() {
		evs, err := nd.InitLocalTrain(s.task, openTx, txMakingRate)
		s.record(evs)
		if err != nil {
			return openTx, fmt.Errorf("node %s: %w", nd.ID(), err)
		}
	}

	s.mu.Lock()
	s.openTx = &openTx
	s.mu.Unlock()
	return openTx, nil
}

// Step runs one round and returns its events.
func (s *Simulator) Step(ctx context.Context) ([]models.Event, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	s.mu.Lock()
	opened := s.openTx != nil
	s.mu.Unlock()
	if !opened {
		return nil, ErrNotOpened
	}

	nodes := s.reg.Nodes()
	perNode := make([][]models.Event, len(nodes))

	// RECEIVING only touches each node's own ledger, so nodes run in parallel.
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perNode[i] = n.GetTransactionsFromBuffer()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// SELECTING mints model ids from the shared task, keep node order.
	for i, n := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		evs, err := n.Update(s.task)
		perNode[i] = append(perNode[i], evs...)
		if err != nil {
			logger.Logger.Warn("Update failed", zap.String("node_id", n.ID()), zap.Error(err))
		}
	}

	// PUBLISHING fills peer buffers, keep node order so arrival order is stable.
	for i, n := range nodes {
		perNode[i] = append(perNode[i], n.SendTxsInBuffer(s.reg)...)
	}

	var events []models.Event
	for _, evs := range perNode {
		events = append(events, evs...)
	}
	s.record(events)

	s.mu.Lock()
	s.round++
	round := s.round
	s.mu.Unlock()
	s.clock.Advance()

	logger.Logger.Debug("Round finished", zap.Int("round", round), zap.Int("events", len(events)))
	return events, nil
}

// Run steps rounds times, stopping early if ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, rounds int) error {
	for r := 0; r < rounds; r++ {
		if _, err := s.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}
