package evo

import (
	"math"
	"math/rand"
	"sort"

	"github.com/calvinloveland/vroomon/internal/fitness"
	"github.com/calvinloveland/vroomon/internal/genome"
)

const (
	// MinRetain is the smallest survivor set, enough for one distinct pair.
	MinRetain = 2
	// PairRetries bounds the redraws for a second parent distinct from the
	// first before a duplicate pairing is accepted.
	PairRetries = 10
)

// RetainCount is max(2, floor(size*ratio)).
func RetainCount(size int, ratio float64) int {
	retain := int(math.Floor(float64(size) * ratio))
	if retain < MinRetain {
		retain = MinRetain
	}
	return retain
}

// rank attaches evaluation scores to the population by input index and
// stable sorts it descending. Individuals without a result score 0.
func rank(population []Individual, scored []fitness.Scored) []Individual {
	ranked := make([]Individual, len(population))
	for i, ind := range population {
		ranked[i] = Individual{Genome: ind.Genome}
	}
	for _, s := range scored {
		if s.Index >= 0 && s.Index < len(ranked) {
			ranked[s.Index].Score = s.Score
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// pickPair draws two survivor indices with replacement, redrawing the second
// up to PairRetries times while it equals the first.
func pickPair(rng *rand.Rand, n int) (int, int, bool) {
	first := rng.Intn(n)
	second := rng.Intn(n)
	for attempt := 0; second == first && attempt < PairRetries; attempt++ {
		second = rng.Intn(n)
	}
	return first, second, first == second
}

// reproduce keeps the top survivors and fills the rest of the population with
// crossover children, some of them mutated once more. It reports how many
// children came from a duplicate pairing.
func reproduce(rng *rand.Rand, ranked []Individual, size int, retainRatio, mutationRate float64) ([]Individual, int) {
	retain := RetainCount(size, retainRatio)
	if retain > len(ranked) {
		retain = len(ranked)
	}
	next := make([]Individual, 0, size)
	for _, survivor := range ranked[:retain] {
		next = append(next, Individual{Genome: survivor.Genome.Clone(), Score: survivor.Score})
	}

	duplicates := 0
	for len(next) < size {
		i, j, duplicate := pickPair(rng, retain)
		if duplicate {
			duplicates++
		}
		child := genome.Crossover(rng, ranked[i].Genome, ranked[j].Genome)
		if rng.Float64() < mutationRate {
			child = genome.Mutate(rng, child)
		}
		next = append(next, Individual{Genome: child})
	}
	return next, duplicates
}
