package models

// EvalResult is the outcome of evaluating a model on a dataset. The zero
// value is the empty result.
type EvalResult struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"` // fraction in [0, 1]
	Samples  int     `json:"samples"`
	Valid    bool    `json:"valid"`
}

// ErrorRate is the misclassified percentage, 100 for an empty result.
func (r EvalResult) ErrorRate() float64 {
	if !r.Valid {
		return 100
	}
	return 100 * (1 - r.Accuracy)
}

// Weights holds named, flattened parameter tensors.
type Weights map[string][]float64

// Clone deep-copies w.
func (w Weights) Clone() Weights {
	c := make(Weights, len(w))
	for name, v := range w {
		c[name] = append([]float64(nil), v...)
	}
	return c
}

// HistoryEntry records a model's provenance.
type HistoryEntry struct {
	Parents   []string `json:"parents"`
	Timestamp int64    `json:"timestamp"`
}

// Dataset is a labelled sample set.
type Dataset struct {
	X [][]float64
	Y []int
}

func (d Dataset) Len() int {
	return len(d.Y)
}

// Model is the opaque handle of the training framework.
type Model interface {
	ID() string
	Fit(data Dataset) error
	Evaluate(data Dataset) EvalResult
	Weights() Weights
	SetWeights(w Weights)
	AddHistory(entry HistoryEntry)
	History() []HistoryEntry
}

// Task describes a learning task opened on the ledger.
type Task interface {
	ID() string
	// ModelID is the id of the task's reference model.
	ModelID() string
	CreateBaseModel() Model
	TaskModel() Model
}
