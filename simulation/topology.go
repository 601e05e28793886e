package simulation

import (
	"fmt"
	"math/rand"

	"dag-learning/node"
)

type Topology string

const (
	TopologyRing     Topology = "ring"
	TopologyComplete Topology = "complete"
	TopologyRandom   Topology = "random"
)

// Wire connects the registered nodes. degree is only used by the random
// topology, where every node gets at least degree distinct peers.
func Wire(reg *node.Registry, t Topology, degree int, rng *rand.Rand) error {
	n := reg.Len()
	switch t {
	case TopologyRing:
		if n < 2 {
			return nil
		}
		for i := 0; i < n; i++ {
			if err := reg.Connect(i, (i+1)%n); err != nil {
				return err
			}
		}
	case TopologyComplete:
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if err := reg.Connect(i, j); err != nil {
					return err
				}
			}
		}
	case TopologyRandom:
		if degree >= n {
			return fmt.Errorf("degree %d needs more than %d nodes", degree, n)
		}
		for i := 0; i < n; i++ {
			for _, j := range rng.Perm(n) {
				if len(reg.Get(i).Adjacent()) >= degree {
					break
				}
				if j == i {
					continue
				}
				if err := reg.Connect(i, j); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("unknown topology %q", t)
	}
	return nil
}
