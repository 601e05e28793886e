package reputation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"dag-learning/models"
)

// ErrShapeMismatch is returned when two weight sets do not line up.
var ErrShapeMismatch = errors.New("weight shapes differ")

// filterEpsilon keeps the per-tensor rescaling finite for all-zero tensors.
const filterEpsilon = 1e-10

func sortedNames(w models.Weights) []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Frobenius returns the Frobenius norm of w - base over every tensor of w,
// or of w alone when base is nil.
func Frobenius(w, base models.Weights) (float64, error) {
	total := 0.
	for _, name := range sortedNames(w) {
		v := w[name]
		if base == nil {
			n := floats.Norm(v, 2)
			total += n * n
			continue
		}
		b, ok := base[name]
		if !ok || len(b) != len(v) {
			return 0, fmt.Errorf("tensor %q: %w", name, ErrShapeMismatch)
		}
		d := floats.Distance(v, b, 2)
		total += d * d
	}
	return math.Sqrt(total), nil
}

// FilterNormalize rescales every tensor to the norm of the whole weight set,
// so that distances are not dominated by the largest layers.
func FilterNormalize(w models.Weights) models.Weights {
	theta, _ := Frobenius(w, nil)
	res := make(models.Weights, len(w))
	for name, v := range w {
		d := floats.Norm(v, 2) + filterEpsilon
		res[name] = make([]float64, len(v))
		floats.ScaleTo(res[name], theta/d, v)
	}
	return res
}
