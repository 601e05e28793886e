package policy

import (
	"math/rand"

	"dag-learning/models"
)

// ApplyByzantine lets an adversarial node tamper with the model it is about
// to publish. Honest nodes (b == nil) get candidate back untouched.
func ApplyByzantine(b *models.Byzantine, candidate, current models.Model, rng *rand.Rand) models.Model {
	if b == nil || candidate == nil {
		return candidate
	}
	switch b.Type {
	case models.ByzantineRandomWeights:
		w := candidate.Weights().Clone()
		for _, name := range sortedKeys(w) {
			for i := range w[name] {
				w[name][i] = rng.NormFloat64()
			}
		}
		candidate.SetWeights(w)
	case models.ByzantineLazy:
		if current != nil {
			candidate.SetWeights(current.Weights().Clone())
		}
	}
	return candidate
}

// ReportedEvaluation is the evaluation a node attaches to a reference.
// fixed_eval nodes always claim a perfect score.
func ReportedEvaluation(b *models.Byzantine, res models.EvalResult) models.EvalResult {
	if b != nil && b.Type == models.ByzantineFixedEval {
		return models.EvalResult{Accuracy: 1, Samples: res.Samples, Valid: true}
	}
	return res
}
