package centroid_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"dag-learning/centroid"
	"dag-learning/models"
)

func TestFitAndEvaluate(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	train := centroid.Synthetic(rng, 300, 4, 3, 0.5)
	test := centroid.Synthetic(rng, 100, 4, 3, 0.5)

	m := centroid.NewModel("m", 3, 4)
	require.NoError(t, m.Fit(train))

	res := m.Evaluate(test)
	require.True(t, res.Valid)
	require.Equal(t, 100, res.Samples)
	require.Greater(t, res.Accuracy, 0.9)
	require.InDelta(t, 100*(1-res.Accuracy), res.ErrorRate(), 1e-9)
}

func TestEvaluateEmptyDataset(t *testing.T) {
	m := centroid.NewModel("m", 3, 4)
	require.Equal(t, models.EvalResult{}, m.Evaluate(models.Dataset{}))
}

func TestFitRejectsShapeMismatch(t *testing.T) {
	m := centroid.NewModel("m", 2, 3)
	err := m.Fit(models.Dataset{X: [][]float64{{1, 2}}, Y: []int{0}})
	require.Error(t, err)

	err = centroid.NewModel("m", 0, 3).Fit(models.Dataset{})
	require.Error(t, err)
}

func TestWeightsAreCopies(t *testing.T) {
	m := centroid.NewModel("m", 2, 2)
	m.SetWeights(models.Weights{"class/0": {1, 2}, "class/1": {3, 4}, "other": {9}})

	w := m.Weights()
	require.Equal(t, models.Weights{"class/0": {1, 2}, "class/1": {3, 4}}, w)
	w["class/0"][0] = 100
	require.Equal(t, []float64{1, 2}, m.Weights()["class/0"])

	require.Equal(t, 0, m.Predict([]float64{1.1, 2}))
	require.Equal(t, 1, m.Predict([]float64{3, 3.9}))
}

func TestHistory(t *testing.T) {
	m := centroid.NewModel("m", 1, 1)
	m.AddHistory(models.HistoryEntry{Parents: []string{"a"}, Timestamp: 2})

	h := m.History()
	h[0].Timestamp = 9
	require.Equal(t, int64(2), m.History()[0].Timestamp)
}

func TestTask(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	task, err := centroid.NewTask("t", 2, 3, centroid.Synthetic(rng, 20, 3, 2, 1))
	require.NoError(t, err)

	require.Equal(t, "t", task.ID())
	require.Equal(t, "t-base", task.ModelID())
	require.Equal(t, task.ModelID(), task.TaskModel().ID())
	require.Equal(t, "t-m1", task.CreateBaseModel().ID())
	require.Equal(t, "t-m2", task.CreateBaseModel().ID())
}

func TestSplit(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ds := centroid.Synthetic(rng, 10, 2, 2, 1)
	a, b := centroid.Split(ds, 0.3)
	require.Equal(t, 3, a.Len())
	require.Equal(t, 7, b.Len())
}
