package genome

import "math/rand"

const (
	// ReplaceProbability, DeleteProbability and InsertProbability are the
	// per-position mutation chances. They are applied as cumulative
	// thresholds in that order.
	ReplaceProbability = 0.10
	DeleteProbability  = 0.05
	InsertProbability  = 0.05

	// Cumulative cut points of the per-position draw.
	replaceBelow = 0.10
	deleteBelow  = 0.15
	insertBelow  = 0.20

	// CrossoverWindow is how many consecutive genes one successful crossover
	// coin copies from the other parent.
	CrossoverWindow = 3
)

func RandomFrameGene(rng *rand.Rand) FrameGene {
	return frameGenes[rng.Intn(len(frameGenes))]
}

func RandomPowertrainGene(rng *rand.Rand) PowertrainGene {
	return powertrainGenes[rng.Intn(len(powertrainGenes))]
}

// Random builds a genome of length independently drawn gene pairs.
func Random(rng *rand.Rand, length int) Genome {
	g := Genome{
		Frame:      make([]FrameGene, length),
		Powertrain: make([]PowertrainGene, length),
	}
	for i := 0; i < length; i++ {
		g.Frame[i], g.Powertrain[i] = randomPair(rng)
	}
	return mustValid("random", g)
}

func randomPair(rng *rand.Rand) (FrameGene, PowertrainGene) {
	return RandomFrameGene(rng), RandomPowertrainGene(rng)
}

// Mutate returns a mutated copy of g. Each position draws once: replace the
// pair, delete it (only while longer than one), insert a fresh pair before
// it, or leave it. A deletion re-examines the slot, which now holds the next
// pair.
func Mutate(rng *rand.Rand, g Genome) Genome {
	mustValid("mutate", g)
	out := g.Clone()

	for i := 0; i < len(out.Frame); {
		r := rng.Float64()
		switch {
		case r < replaceBelow:
			out.Frame[i], out.Powertrain[i] = randomPair(rng)
			i++
		case r < deleteBelow && len(out.Frame) > 1:
			out.Frame = append(out.Frame[:i], out.Frame[i+1:]...)
			out.Powertrain = append(out.Powertrain[:i], out.Powertrain[i+1:]...)
		case r < insertBelow:
			frame, powertrain := randomPair(rng)
			out.Frame = insertAt(out.Frame, i, frame)
			out.Powertrain = insertAt(out.Powertrain, i, powertrain)
			i += 2
		default:
			i++
		}
	}
	return mustValid("mutate", out)
}

// Crossover copies one parent (chosen uniformly) and overlays windows of the
// other parent's genes, then applies a single Mutate to the child.
func Crossover(rng *rand.Rand, a, b Genome) Genome {
	mother, other := a, b
	if rng.Intn(2) == 1 {
		mother, other = b, a
	}
	return Mutate(rng, overlay(rng, mother, other))
}

// overlay is the crossover pass without the trailing mutation. The result
// always has the mother's length.
func overlay(rng *rand.Rand, mother, other Genome) Genome {
	child := mother.Clone()
	for i := 0; i < len(mother.Frame); i++ {
		if rng.Float64() < 0.5 {
			copyWindow(child.Frame, other.Frame, i)
		}
		if rng.Float64() < 0.5 {
			copyWindow(child.Powertrain, other.Powertrain, i)
		}
	}
	return child
}

func copyWindow[T any](dst, src []T, start int) {
	end := start + CrossoverWindow
	if end > len(dst) {
		end = len(dst)
	}
	if end > len(src) {
		end = len(src)
	}
	if start >= end {
		return
	}
	copy(dst[start:end], src[start:end])
}

func insertAt[T any](xs []T, i int, v T) []T {
	var zero T
	xs = append(xs, zero)
	copy(xs[i+1:], xs[i:])
	xs[i] = v
	return xs
}
