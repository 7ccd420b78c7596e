package markov

import (
	"math/rand/v2"
	"sort"
)

// Cumulative returns the running prefix sums of weights.
func Cumulative(weights []float64) []float64 {
	cumulative := make([]float64, len(weights))
	var total float64
	for i, w := range weights {
		total += w
		cumulative[i] = total
	}
	return cumulative
}

// Pick draws an index from a cumulative weight array: it takes a uniform value
// in [0, total) and returns the first index whose prefix sum exceeds it. When
// every weight is zero the index is chosen uniformly. cumulative must not be
// empty.
func Pick(rng *rand.Rand, cumulative []float64) int {
	total := cumulative[len(cumulative)-1]
	if total <= 0 {
		return rng.IntN(len(cumulative))
	}
	r := rng.Float64() * total
	return sort.Search(len(cumulative), func(i int) bool {
		return cumulative[i] > r
	})
}

func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
