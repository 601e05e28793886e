package policy

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"dag-learning/models"
)

type UpdatingType string

const UpdatingFedAvg UpdatingType = "fedavg"

// ErrNothingToAggregate is returned by Update for an empty model list.
var ErrNothingToAggregate = errors.New("no models to aggregate")

// Updating merges the selected models into one new model.
type Updating interface {
	Type() UpdatingType
	Update(ms []models.Model, task models.Task, timestamp int64) (models.Model, error)
	MakeNewHistory(parents []string, m models.Model, timestamp int64) models.HistoryEntry
}

// FedAvg averages the weights of the selected models element-wise into a
// fresh base model of the task.
type FedAvg struct{}

func (FedAvg) Type() UpdatingType { return UpdatingFedAvg }

func (u FedAvg) Update(ms []models.Model, task models.Task, timestamp int64) (models.Model, error) {
	if len(ms) == 0 {
		return nil, ErrNothingToAggregate
	}

	sum := ms[0].Weights().Clone()
	parents := []string{ms[0].ID()}
	for _, m := range ms[1:] {
		w := m.Weights()
		for name, acc := range sum {
			v, ok := w[name]
			if !ok || len(v) != len(acc) {
				return nil, fmt.Errorf("model %s tensor %q does not match", m.ID(), name)
			}
			floats.Add(acc, v)
		}
		parents = append(parents, m.ID())
	}
	for _, acc := range sum {
		floats.Scale(1/float64(len(ms)), acc)
	}

	out := task.CreateBaseModel()
	out.SetWeights(sum)
	out.AddHistory(u.MakeNewHistory(parents, out, timestamp))
	return out, nil
}

func (FedAvg) MakeNewHistory(parents []string, m models.Model, timestamp int64) models.HistoryEntry {
	return models.HistoryEntry{
		Parents:   append([]string(nil), parents...),
		Timestamp: timestamp,
	}
}
