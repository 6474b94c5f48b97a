package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calvinloveland/vroomon/internal/evo"
	"github.com/calvinloveland/vroomon/internal/model"
	"github.com/calvinloveland/vroomon/internal/storage"
	"github.com/calvinloveland/vroomon/internal/telemetry"
)

// TopCount is how many of the final population are kept as top genomes.
const TopCount = 5

var (
	ErrNotStarted = errors.New("garage is not initialized")
	ErrRunActive  = errors.New("run already active")
	ErrRunUnknown = errors.New("run not active")
)

type Config struct {
	Store storage.Store
	// Metrics is optional; when set every run feeds it.
	Metrics *telemetry.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

type RunSpec struct {
	// RunID defaults to NewRunID().
	RunID     string
	Evolution evo.Config
	Evaluator evo.Evaluator
	// Ticks is recorded with the run; the evaluator owns the real value.
	Ticks     int
	Listeners []evo.Listener
}

type RunOutcome struct {
	RunID  string
	Result evo.RunResult
	Record model.RunRecord
	Top    []model.TopGenomeRecord
}

// Garage owns the store and every active run. Runs are independent; they
// share only the store and the metrics.
type Garage struct {
	store   storage.Store
	metrics *telemetry.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	started   bool
	runs      map[string]*evo.Engine
	bestRunID string
	bestScore float64
}

func NewGarage(cfg Config) *Garage {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Garage{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		now:     now,
		runs:    make(map[string]*evo.Engine),
	}
}

func NewRunID() string {
	return "run-" + uuid.NewString()
}

func (g *Garage) Init(ctx context.Context) error {
	if g.store == nil {
		return fmt.Errorf("store is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	if err := g.store.Init(ctx); err != nil {
		return err
	}
	g.started = true
	return nil
}

// Reset stops active runs and clears the store.
func (g *Garage) Reset(ctx context.Context) error {
	if err := g.Init(ctx); err != nil {
		return err
	}
	g.StopAll()
	if err := g.store.Reset(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	g.bestRunID = ""
	g.bestScore = 0
	g.mu.Unlock()
	return nil
}

func (g *Garage) Started() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.started
}

func (g *Garage) Store() storage.Store {
	return g.store
}

// Run evolves one population to completion and persists the outcome. A run
// cut short by ctx is not persisted.
func (g *Garage) Run(ctx context.Context, spec RunSpec) (RunOutcome, error) {
	if spec.Evaluator == nil {
		return RunOutcome{}, fmt.Errorf("evaluator is required")
	}
	if err := spec.Evolution.Validate(); err != nil {
		return RunOutcome{}, err
	}
	runID := spec.RunID
	if runID == "" {
		runID = NewRunID()
	}

	engine, err := evo.NewEngine(spec.Evaluator, nil)
	if err != nil {
		return RunOutcome{}, err
	}
	for _, l := range spec.Listeners {
		engine.Notifier().Subscribe(l)
	}
	if g.metrics != nil {
		engine.Notifier().Subscribe(g.metrics.Listener(runID))
		defer g.metrics.Forget(runID)
	}

	if err := g.register(runID, engine); err != nil {
		return RunOutcome{}, err
	}
	defer g.unregister(runID)

	created := g.now().UTC()
	result, err := engine.Start(ctx, spec.Evolution)
	if err != nil {
		return RunOutcome{RunID: runID, Result: result}, err
	}

	outcome := RunOutcome{
		RunID:  runID,
		Result: result,
		Record: model.RunRecord{
			VersionedRecord: storage.CurrentVersion(),
			ID:              runID,
			PopulationSize:  spec.Evolution.PopulationSize,
			DNALength:       spec.Evolution.DNALength,
			Generations:     spec.Evolution.Generations,
			RetainRatio:     spec.Evolution.RetainRatio,
			MutationRate:    spec.Evolution.MutationRate,
			Seed:            spec.Evolution.Seed,
			Ticks:           spec.Ticks,
			Completed:       len(result.Generations),
			Stopped:         result.Stopped,
			BestScore:       result.Best.Score,
			BestGenome:      result.Best.Genome.String(),
			CreatedAtUTC:    created.Format(time.RFC3339Nano),
			FinishedAtUTC:   g.now().UTC().Format(time.RFC3339Nano),
		},
		Top: topGenomes(result.Ranked),
	}
	if err := g.persist(ctx, outcome); err != nil {
		return outcome, err
	}
	g.observeBest(runID, result.Best.Score)
	return outcome, nil
}

func (g *Garage) persist(ctx context.Context, outcome RunOutcome) error {
	runID := outcome.RunID
	if err := g.store.SaveRun(ctx, outcome.Record); err != nil {
		return fmt.Errorf("save run %s: %w", runID, err)
	}
	if err := g.store.SaveFitnessHistory(ctx, runID, outcome.Result.BestByGeneration); err != nil {
		return fmt.Errorf("save fitness history %s: %w", runID, err)
	}
	if err := g.store.SaveGenerations(ctx, runID, ToGenerationRecords(outcome.Result.Generations)); err != nil {
		return fmt.Errorf("save generations %s: %w", runID, err)
	}
	if err := g.store.SaveTopGenomes(ctx, runID, outcome.Top); err != nil {
		return fmt.Errorf("save top genomes %s: %w", runID, err)
	}
	return nil
}

// StopRun asks an active run to finish after its current generation.
func (g *Garage) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	g.mu.RLock()
	engine, ok := g.runs[runID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunUnknown, runID)
	}
	engine.Stop()
	return nil
}

func (g *Garage) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, engine := range g.runs {
		engine.Stop()
	}
}

func (g *Garage) ActiveRuns() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.runs))
	for id := range g.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Best is the highest final score seen by this garage since it was created
// or reset.
func (g *Garage) Best() (string, float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bestRunID, g.bestScore, g.bestRunID != ""
}

func (g *Garage) observeBest(runID string, score float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bestRunID == "" || score > g.bestScore {
		g.bestRunID = runID
		g.bestScore = score
	}
}

func (g *Garage) register(runID string, engine *evo.Engine) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return ErrNotStarted
	}
	if _, exists := g.runs[runID]; exists {
		return fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	g.runs[runID] = engine
	return nil
}

func (g *Garage) unregister(runID string) {
	g.mu.Lock()
	delete(g.runs, runID)
	g.mu.Unlock()
}

func ToGenerationRecords(stats []evo.GenerationStats) []model.GenerationRecord {
	out := make([]model.GenerationRecord, 0, len(stats))
	for _, s := range stats {
		out = append(out, model.GenerationRecord{
			Generation:        s.Generation,
			BestScore:         s.BestScore,
			MeanScore:         s.MeanScore,
			MinScore:          s.MinScore,
			BuildFailures:     s.BuildFailures,
			DuplicatePairings: s.DuplicatePairings,
			DistinctGenomes:   s.DistinctGenomes,
			MeanLength:        s.MeanLength,
			RaceSeconds:       s.RaceSeconds,
			BestGenome:        s.BestGenome,
		})
	}
	return out
}

func topGenomes(population []evo.Individual) []model.TopGenomeRecord {
	ranked := append([]evo.Individual(nil), population...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > TopCount {
		ranked = ranked[:TopCount]
	}
	out := make([]model.TopGenomeRecord, 0, len(ranked))
	for i, ind := range ranked {
		out = append(out, model.TopGenomeRecord{
			VersionedRecord: storage.CurrentVersion(),
			Rank:            i + 1,
			Score:           ind.Score,
			Genome:          ind.Genome.String(),
		})
	}
	return out
}
