package models

// ByzantineType names an adversarial behaviour.
type ByzantineType string

const (
	ByzantineRandomWeights ByzantineType = "random_weights"
	ByzantineLazy          ByzantineType = "lazy"
	ByzantineFixedEval     ByzantineType = "fixed_eval"
)

// Byzantine tags a node as adversarial. It is fixed at node construction.
type Byzantine struct {
	Type ByzantineType `json:"type"`
}
