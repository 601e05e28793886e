// Package reputation ranks peer-proposed models so a node can pick which of
// them to aggregate. Every randomized step draws from the *rand.Rand passed
// by the caller, so a fixed seed reproduces the same selection.
package reputation

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"dag-learning/models"
)

var (
	// ErrNotEnoughCandidates is returned when more selections are requested
	// than there are candidates.
	ErrNotEnoughCandidates = errors.New("not enough candidates")
	// ErrInvalidCount is returned for a negative selection count.
	ErrInvalidCount = errors.New("count must not be negative")
	// ErrNoScorer is returned when accuracies are asked for without a scorer.
	ErrNoScorer = errors.New("accuracy scorer required")
)

// Options switch the ranking variants.
type Options struct {
	// OptimalStopping ends the scan early, secretary-problem style.
	// It only applies to pools of at least 3 candidates.
	OptimalStopping bool
	// FilterNormalization rescales each weight tensor before measuring
	// distances. Only used by ByDistance.
	FilterNormalization bool
	// ReturnAccuracy makes ByDistance report the accuracy score of the
	// picked candidates instead of their distance.
	ReturnAccuracy bool
}

// Result lists the chosen candidates best first. Indexes point into the
// candidate pool passed in; Scanned counts how many candidates were scored
// and Elapsed is the wall time the selection took.
type Result struct {
	Scores  []float64
	Indexes []int
	Scanned int
	Elapsed time.Duration
}

// Scorer rates a model, higher is better. Accuracy rankings expect
// 100 - error percentage.
type Scorer func(m models.Model) float64

// AccuracyScore turns an evaluation into the 100 - error score.
func AccuracyScore(res models.EvalResult) float64 {
	return 100 - res.ErrorRate()
}

func checkCount(n, count int) error {
	if count < 0 {
		return fmt.Errorf("%d: %w", count, ErrInvalidCount)
	}
	if count > n {
		return fmt.Errorf("requested %d of %d: %w", count, n, ErrNotEnoughCandidates)
	}
	return nil
}

// ByRandom draws count distinct indexes of a pool of n, uniformly and without
// replacement.
func ByRandom(rng *rand.Rand, n, count int) ([]int, error) {
	if err := checkCount(n, count); err != nil {
		return nil, err
	}
	return rng.Perm(n)[:count], nil
}

// ByRandomWithAccuracy is ByRandom on a candidate pool, scoring the drawn
// candidates with score.
func ByRandomWithAccuracy(rng *rand.Rand, candidates []models.Model, count int, score Scorer) (Result, error) {
	start := time.Now()
	idx, err := ByRandom(rng, len(candidates), count)
	if err != nil {
		return Result{}, err
	}
	res := Result{Indexes: idx, Scanned: len(idx)}
	for _, i := range idx {
		res.Scores = append(res.Scores, score(candidates[i]))
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// ByAccuracy scores every candidate with score and keeps the count best.
func ByAccuracy(rng *rand.Rand, candidates []models.Model, count int, score Scorer, opts Options) (Result, error) {
	start := time.Now()
	n := len(candidates)
	if err := checkCount(n, count); err != nil {
		return Result{}, err
	}
	res := scan(rng, n, count, opts.OptimalStopping, false, func(i int) float64 {
		return score(candidates[i])
	})
	res.Elapsed = time.Since(start)
	return res, nil
}

// ByDistance prefers the candidates whose weights are closest to base in
// Frobenius norm. Returned scores are distances, smallest first, or the
// accuracy scores of the picked candidates when opts.ReturnAccuracy is set.
// score is only used, and then required, with opts.ReturnAccuracy.
func ByDistance(rng *rand.Rand, candidates []models.Model, count int, base models.Weights, score Scorer, opts Options) (Result, error) {
	start := time.Now()
	n := len(candidates)
	if err := checkCount(n, count); err != nil {
		return Result{}, err
	}
	if opts.ReturnAccuracy && score == nil {
		return Result{}, ErrNoScorer
	}

	if opts.FilterNormalization {
		base = FilterNormalize(base)
	}
	var scoreErr error
	res := scan(rng, n, count, opts.OptimalStopping, true, func(i int) float64 {
		w := candidates[i].Weights()
		if opts.FilterNormalization {
			w = FilterNormalize(w)
		}
		d, err := Frobenius(w, base)
		if err != nil && scoreErr == nil {
			scoreErr = fmt.Errorf("candidate %d: %w", i, err)
		}
		return -d
	})
	if scoreErr != nil {
		return Result{}, scoreErr
	}
	for i := range res.Scores {
		if opts.ReturnAccuracy {
			res.Scores[i] = score(candidates[res.Indexes[i]])
		} else {
			res.Scores[i] = -res.Scores[i]
		}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// scan scores the pool and ranks it. In stopping mode the pool is visited in
// a random order and the scan ends at the first new running best found after
// the n/e exploration threshold, once at least count candidates were seen.
// With cutlineFromFirst the running best starts at the first score instead
// of zero, which matters for negative scores.
func scan(rng *rand.Rand, n, count int, stopping, cutlineFromFirst bool, score func(i int) float64) Result {
	var (
		scores = make([]float64, 0, n)
		idx    = make([]int, 0, n)
	)

	if stopping && n >= 3 {
		passing := int(float64(n) / math.E)
		cutline := 0.
		order := rng.Perm(n)
		for i, c := range order {
			s := score(c)
			if i == 0 && cutlineFromFirst {
				cutline = s
			}
			scores = append(scores, s)
			idx = append(idx, c)
			if cutline < s {
				cutline = s
				if i >= passing && i+1 >= count {
					break
				}
			}
		}
	} else {
		for i := 0; i < n; i++ {
			scores = append(scores, score(i))
			idx = append(idx, i)
		}
	}

	scanned := len(idx)
	scores, idx = rank(scores, idx, count)
	return Result{Scores: scores, Indexes: idx, Scanned: scanned}
}

// rank orders (score, index) pairs descending, larger index first on equal
// scores, and truncates to count.
func rank(scores []float64, idx []int, count int) ([]float64, []int) {
	type pair struct {
		score float64
		idx   int
	}
	pairs := make([]pair, len(scores))
	for i := range scores {
		pairs[i] = pair{scores[i], idx[i]}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].score != pairs[b].score {
			return pairs[a].score > pairs[b].score
		}
		return pairs[a].idx > pairs[b].idx
	})
	if count < len(pairs) {
		pairs = pairs[:count]
	}

	outScores := make([]float64, len(pairs))
	outIdx := make([]int, len(pairs))
	for i, p := range pairs {
		outScores[i], outIdx[i] = p.score, p.idx
	}
	return outScores, outIdx
}
