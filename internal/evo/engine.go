package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/calvinloveland/vroomon/internal/fitness"
	"github.com/calvinloveland/vroomon/internal/genome"
)

var ErrInvalidConfig = errors.New("invalid evolution config")

type Config struct {
	PopulationSize int     `json:"population_size"`
	DNALength      int     `json:"dna_length"`
	Generations    int     `json:"generations"`
	RetainRatio    float64 `json:"retain_ratio"`
	MutationRate   float64 `json:"mutation_rate"`
	Seed           int64   `json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		PopulationSize: 20,
		DNALength:      5,
		Generations:    10,
		RetainRatio:    0.5,
		MutationRate:   0.1,
		Seed:           1,
	}
}

func (c Config) Validate() error {
	switch {
	case c.PopulationSize < 2:
		return fmt.Errorf("%w: population_size must be >= 2, got %d", ErrInvalidConfig, c.PopulationSize)
	case c.DNALength < 1:
		return fmt.Errorf("%w: dna_length must be >= 1, got %d", ErrInvalidConfig, c.DNALength)
	case c.Generations < 0:
		return fmt.Errorf("%w: generations must be >= 0, got %d", ErrInvalidConfig, c.Generations)
	case !(c.RetainRatio > 0 && c.RetainRatio <= 1):
		return fmt.Errorf("%w: retain_ratio must be in (0, 1], got %f", ErrInvalidConfig, c.RetainRatio)
	case !(c.MutationRate >= 0 && c.MutationRate <= 1):
		return fmt.Errorf("%w: mutation_rate must be in [0, 1], got %f", ErrInvalidConfig, c.MutationRate)
	}
	return nil
}

type State int32

const (
	Idle State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Individual is one member of the population. Score is only ever set from an
// evaluation; children start at 0.
type Individual struct {
	Genome genome.Genome
	Score  float64
}

// Evaluator scores a whole population in one call.
type Evaluator interface {
	Evaluate(ctx context.Context, genomes []genome.Genome) ([]fitness.Scored, fitness.Race, error)
}

type GenerationStats struct {
	Generation    int     `json:"generation"`
	BestScore     float64 `json:"best_score"`
	MeanScore     float64 `json:"mean_score"`
	MinScore      float64 `json:"min_score"`
	BuildFailures int     `json:"build_failures"`
	// DuplicatePairings counts children of this generation whose parents
	// were the same individual.
	DuplicatePairings int     `json:"duplicate_pairings"`
	DistinctGenomes   int     `json:"distinct_genomes"`
	MeanLength        float64 `json:"mean_length"`
	RaceSeconds       float64 `json:"race_seconds"`
	BestGenome        string  `json:"best_genome"`
}

type RunResult struct {
	// Started is false when Start was a no-op because a run was in progress.
	Started          bool
	Stopped          bool
	BestByGeneration []float64
	Generations      []GenerationStats
	// FinalPopulation may hold children that were never evaluated when the
	// run stopped early. Ranked is the last evaluated population, best first.
	FinalPopulation []Individual
	Ranked          []Individual
	Best            Individual
}

// Engine runs one evolution at a time. A second Start while running returns
// immediately without starting anything.
type Engine struct {
	evaluator Evaluator
	notifier  *Notifier
	state     atomic.Int32
	stop      atomic.Bool
}

func NewEngine(evaluator Evaluator, notifier *Notifier) (*Engine, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Engine{evaluator: evaluator, notifier: notifier}, nil
}

func (e *Engine) Notifier() *Notifier {
	return e.notifier
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Stop asks the running evolution to end after the current generation's
// reproduction. It never interrupts an evaluation.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

func (e *Engine) Start(ctx context.Context, cfg Config) (RunResult, error) {
	if !e.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return RunResult{}, nil
	}
	defer e.state.Store(int32(Idle))
	e.stop.Store(false)

	if err := cfg.Validate(); err != nil {
		return RunResult{}, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	population := make([]Individual, cfg.PopulationSize)
	for i := range population {
		population[i] = Individual{Genome: genome.Random(rng, cfg.DNALength)}
	}

	result := RunResult{
		Started:          true,
		BestByGeneration: make([]float64, 0, cfg.Generations),
		Generations:      make([]GenerationStats, 0, cfg.Generations),
	}
	duplicates := 0
	for gen := 0; gen < cfg.Generations; gen++ {
		scored, race, err := e.evaluator.Evaluate(ctx, genomesOf(population))
		if err != nil {
			result.FinalPopulation = population
			return result, fmt.Errorf("evaluate generation %d: %w", gen, err)
		}
		population = rank(population, scored)
		result.Ranked = append([]Individual(nil), population...)

		stats := summarizeGeneration(gen, population, race)
		stats.DuplicatePairings = duplicates
		result.BestByGeneration = append(result.BestByGeneration, stats.BestScore)
		result.Generations = append(result.Generations, stats)
		e.notifier.generationCompleted(GenerationCompleted{Index: gen, BestScore: stats.BestScore, Stats: stats})

		if gen == cfg.Generations-1 {
			break
		}
		population, duplicates = reproduce(rng, population, cfg.PopulationSize, cfg.RetainRatio, cfg.MutationRate)

		if e.stop.Load() {
			result.Stopped = true
			break
		}
		if err := ctx.Err(); err != nil {
			result.Stopped = true
			result.FinalPopulation = population
			return result, err
		}
	}

	e.state.Store(int32(Finished))
	result.FinalPopulation = population
	result.Best = population[0]
	e.notifier.evolutionFinished(EvolutionFinished{
		Best:        result.Best,
		Generations: len(result.Generations),
		Stopped:     result.Stopped,
	})
	return result, nil
}

func genomesOf(population []Individual) []genome.Genome {
	out := make([]genome.Genome, len(population))
	for i, ind := range population {
		out[i] = ind.Genome
	}
	return out
}

func summarizeGeneration(gen int, ranked []Individual, race fitness.Race) GenerationStats {
	stats := GenerationStats{
		Generation:    gen,
		BuildFailures: race.BuildFailures,
		RaceSeconds:   race.Duration.Seconds(),
	}
	if len(ranked) == 0 {
		return stats
	}
	total := 0.0
	length := 0
	minScore := ranked[0].Score
	distinct := make(map[string]struct{}, len(ranked))
	for _, ind := range ranked {
		total += ind.Score
		length += ind.Genome.Len()
		if ind.Score < minScore {
			minScore = ind.Score
		}
		distinct[ind.Genome.String()] = struct{}{}
	}
	stats.BestScore = ranked[0].Score
	stats.MeanScore = total / float64(len(ranked))
	stats.MinScore = minScore
	stats.DistinctGenomes = len(distinct)
	stats.MeanLength = float64(length) / float64(len(ranked))
	stats.BestGenome = ranked[0].Genome.String()
	return stats
}
