package centroid

import (
	"math/rand"

	"dag-learning/models"
)

// Synthetic draws n samples from gaussian blobs, one per class, whose
// centres lie on a grid of step 4 along the first features.
func Synthetic(rng *rand.Rand, n, features, classes int, spread float64) models.Dataset {
	ds := models.Dataset{X: make([][]float64, n), Y: make([]int, n)}
	for i := 0; i < n; i++ {
		y := rng.Intn(classes)
		x := make([]float64, features)
		for f := range x {
			x[f] = rng.NormFloat64() * spread
		}
		x[y%features] += 4 * float64(1+y/features)
		ds.X[i], ds.Y[i] = x, y
	}
	return ds
}

// Split cuts ds in two, the first part holding the leading fraction.
func Split(ds models.Dataset, fraction float64) (models.Dataset, models.Dataset) {
	cut := int(float64(ds.Len()) * fraction)
	return models.Dataset{X: ds.X[:cut], Y: ds.Y[:cut]},
		models.Dataset{X: ds.X[cut:], Y: ds.Y[cut:]}
}
