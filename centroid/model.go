// Package centroid is a nearest-centroid classifier used by the reference
// driver and the tests as a stand-in for a real training framework.
package centroid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"dag-learning/models"
)

var errNoClasses = errors.New("model has no classes")

// Model keeps one centroid per class, exposed as weight tensors "class/<k>".
type Model struct {
	id        string
	centroids [][]float64
	history   []models.HistoryEntry
}

// NewModel creates a model with all centroids at the origin.
func NewModel(id string, classes, features int) *Model {
	c := make([][]float64, classes)
	for k := range c {
		c[k] = make([]float64, features)
	}
	return &Model{id: id, centroids: c}
}

func tensorName(k int) string {
	return fmt.Sprintf("class/%d", k)
}

func (m *Model) ID() string { return m.id }

// Fit moves every centroid to the mean of its class. Classes absent from
// data keep their centroid.
func (m *Model) Fit(data models.Dataset) error {
	if len(m.centroids) == 0 {
		return errNoClasses
	}
	features := len(m.centroids[0])
	sums := make([][]float64, len(m.centroids))
	counts := make([]int, len(m.centroids))
	for k := range sums {
		sums[k] = make([]float64, features)
	}
	for i, x := range data.X {
		y := data.Y[i]
		if y < 0 || y >= len(sums) || len(x) != features {
			return fmt.Errorf("sample %d does not fit a %d-class %d-feature model", i, len(sums), features)
		}
		floats.Add(sums[y], x)
		counts[y]++
	}
	for k, n := range counts {
		if n == 0 {
			continue
		}
		floats.Scale(1/float64(n), sums[k])
		m.centroids[k] = sums[k]
	}
	return nil
}

// Evaluate reports accuracy and the mean distance to the true centroid.
func (m *Model) Evaluate(data models.Dataset) models.EvalResult {
	if data.Len() == 0 || len(m.centroids) == 0 {
		return models.EvalResult{}
	}
	correct, loss := 0, 0.
	for i, x := range data.X {
		if m.Predict(x) == data.Y[i] {
			correct++
		}
		if y := data.Y[i]; y >= 0 && y < len(m.centroids) {
			loss += floats.Distance(x, m.centroids[y], 2)
		}
	}
	n := data.Len()
	return models.EvalResult{
		Loss:     loss / float64(n),
		Accuracy: float64(correct) / float64(n),
		Samples:  n,
		Valid:    true,
	}
}

// Predict returns the class of the nearest centroid.
func (m *Model) Predict(x []float64) int {
	best, bestDist := -1, math.Inf(1)
	for k, c := range m.centroids {
		if len(c) != len(x) {
			continue
		}
		if d := floats.Distance(x, c, 2); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

func (m *Model) Weights() models.Weights {
	w := make(models.Weights, len(m.centroids))
	for k, c := range m.centroids {
		w[tensorName(k)] = append([]float64(nil), c...)
	}
	return w
}

// SetWeights copies the matching tensors of w, ignoring unknown names.
func (m *Model) SetWeights(w models.Weights) {
	for k := range m.centroids {
		if v, ok := w[tensorName(k)]; ok && len(v) == len(m.centroids[k]) {
			m.centroids[k] = append([]float64(nil), v...)
		}
	}
}

func (m *Model) AddHistory(entry models.HistoryEntry) {
	m.history = append(m.history, entry)
}

func (m *Model) History() []models.HistoryEntry {
	return append([]models.HistoryEntry(nil), m.history...)
}
