package evo

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/calvinloveland/vroomon/internal/fitness"
	"github.com/calvinloveland/vroomon/internal/genome"
	"github.com/calvinloveland/vroomon/internal/phenotype"
	"github.com/calvinloveland/vroomon/internal/physics"
	"github.com/calvinloveland/vroomon/internal/powertrain"
)

// wheelEvaluator scores a genome by its wheel count plus a tenth of its
// length, in input order.
type wheelEvaluator struct {
	mu      sync.Mutex
	calls   int
	sizes   []int
	invalid int
	hook    func(call int)
	fail    error
	drop    int
}

func (e *wheelEvaluator) Evaluate(_ context.Context, genomes []genome.Genome) ([]fitness.Scored, fitness.Race, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.sizes = append(e.sizes, len(genomes))
	for _, g := range genomes {
		if genome.Validate(g) != nil {
			e.invalid++
		}
	}
	hook, fail, drop := e.hook, e.fail, e.drop
	e.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if fail != nil {
		return nil, fitness.Race{}, fail
	}
	out := make([]fitness.Scored, 0, len(genomes))
	for i, g := range genomes {
		if i < drop {
			continue
		}
		out = append(out, fitness.Scored{Index: i, Genome: g, Score: float64(g.Wheels()) + 0.1*float64(g.Len())})
	}
	return out, fitness.Race{Entrants: len(genomes), Built: len(genomes)}, nil
}

func smallConfig() Config {
	return Config{PopulationSize: 6, DNALength: 4, Generations: 5, RetainRatio: 0.5, MutationRate: 0.2, Seed: 11}
}

func newTestEngine(t *testing.T, ev Evaluator) *Engine {
	t.Helper()
	e, err := NewEngine(ev, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestStartRunsEveryGeneration(t *testing.T) {
	ev := &wheelEvaluator{}
	e := newTestEngine(t, ev)
	result, err := e.Start(context.Background(), smallConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !result.Started || result.Stopped {
		t.Fatalf("unexpected flags: started=%v stopped=%v", result.Started, result.Stopped)
	}
	if ev.calls != 5 || len(result.BestByGeneration) != 5 || len(result.Generations) != 5 {
		t.Fatalf("calls=%d best=%d stats=%d", ev.calls, len(result.BestByGeneration), len(result.Generations))
	}
	for i, size := range ev.sizes {
		if size != 6 {
			t.Fatalf("generation %d evaluated %d genomes", i, size)
		}
	}
	if ev.invalid != 0 {
		t.Fatalf("%d invalid genomes reached the evaluator", ev.invalid)
	}
	if result.Best.Score != result.FinalPopulation[0].Score {
		t.Fatalf("best %f is not the top of the final population %f", result.Best.Score, result.FinalPopulation[0].Score)
	}
	for i := 1; i < len(result.FinalPopulation); i++ {
		if result.FinalPopulation[i].Score > result.FinalPopulation[i-1].Score {
			t.Fatalf("final population not sorted at %d", i)
		}
	}
	if e.State() != Idle {
		t.Fatalf("expected idle after run, got %s", e.State())
	}
}

func TestBestScoreNeverDropsWithSurvivors(t *testing.T) {
	e := newTestEngine(t, &wheelEvaluator{})
	result, err := e.Start(context.Background(), smallConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 1; i < len(result.BestByGeneration); i++ {
		if result.BestByGeneration[i] < result.BestByGeneration[i-1] {
			t.Fatalf("deterministic scoring regressed at generation %d: %v", i, result.BestByGeneration)
		}
	}
}

func TestStartIsDeterministicUnderSeed(t *testing.T) {
	cfg := Config{PopulationSize: 4, DNALength: 3, Generations: 2, RetainRatio: 0.5, MutationRate: 0.1, Seed: 99}
	run := func() []float64 {
		result, err := newTestEngine(t, &wheelEvaluator{}).Start(context.Background(), cfg)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		return result.BestByGeneration
	}
	a, b := run(), run()
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("expected two generations, got %v and %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs diverged: %v vs %v", a, b)
		}
	}
}

func TestFullPipelineIsDeterministicUnderSeed(t *testing.T) {
	cfg := Config{PopulationSize: 4, DNALength: 3, Generations: 2, RetainRatio: 0.5, MutationRate: 0.1, Seed: 5}
	run := func() []float64 {
		terrain, err := physics.GenerateTerrain(rand.New(rand.NewSource(cfg.Seed)), physics.DefaultTerrainConfig())
		if err != nil {
			t.Fatalf("terrain: %v", err)
		}
		builder, err := phenotype.NewBuilder(phenotype.DefaultConfig(), powertrain.NewSolver(rand.New(rand.NewSource(cfg.Seed))), rand.New(rand.NewSource(cfg.Seed+1)))
		if err != nil {
			t.Fatalf("builder: %v", err)
		}
		fc := fitness.DefaultConfig()
		fc.Ticks = 40
		evaluator, err := fitness.NewEvaluator(fc, physics.ReferenceFactory(physics.DefaultReferenceConfig()), builder, terrain)
		if err != nil {
			t.Fatalf("evaluator: %v", err)
		}
		result, err := newTestEngine(t, evaluator).Start(context.Background(), cfg)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		return result.BestByGeneration
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs diverged: %v vs %v", a, b)
		}
	}
}

func TestSecondStartWhileRunningIsNoop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	ev := &wheelEvaluator{hook: func(call int) {
		if call == 1 {
			close(entered)
			<-release
		}
	}}
	e := newTestEngine(t, ev)

	done := make(chan error, 1)
	go func() {
		_, err := e.Start(context.Background(), smallConfig())
		done <- err
	}()
	<-entered

	if e.State() != Running {
		t.Fatalf("expected running, got %s", e.State())
	}
	second, err := e.Start(context.Background(), smallConfig())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.Started || len(second.BestByGeneration) != 0 {
		t.Fatalf("second start should be a no-op, got %+v", second)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first start: %v", err)
	}
	if ev.calls != 5 {
		t.Fatalf("expected only the first run's 5 evaluations, got %d", ev.calls)
	}
}

func TestStopEndsAfterCurrentGeneration(t *testing.T) {
	var e *Engine
	ev := &wheelEvaluator{}
	ev.hook = func(call int) {
		if call == 2 {
			e.Stop()
		}
	}
	e = newTestEngine(t, ev)
	finished := NewChannelListener(16)
	e.Notifier().Subscribe(finished)

	result, err := e.Start(context.Background(), smallConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !result.Stopped || len(result.Generations) != 2 || ev.calls != 2 {
		t.Fatalf("stopped=%v generations=%d calls=%d", result.Stopped, len(result.Generations), ev.calls)
	}
	if len(result.FinalPopulation) != 6 {
		t.Fatalf("expected a full population after stop, got %d", len(result.FinalPopulation))
	}
	if len(result.Ranked) != 6 || result.Ranked[0].Score != result.BestByGeneration[1] {
		t.Fatalf("ranked should be the last evaluated generation, got %+v", result.Ranked)
	}
	for i, ind := range result.Ranked {
		// every evaluated genome scores at least a tenth of its length
		if ind.Score <= 0 {
			t.Fatalf("ranked %d was never evaluated: %+v", i, ind)
		}
		if i > 0 && ind.Score > result.Ranked[i-1].Score {
			t.Fatalf("ranked population not sorted at %d", i)
		}
	}

	var last Event
	for len(finished.C) > 0 {
		last = <-finished.C
	}
	ev2, ok := last.(EvolutionFinished)
	if !ok || !ev2.Stopped || ev2.Generations != 2 {
		t.Fatalf("expected stopped finish event, got %#v", last)
	}
}

func TestStartHonoursContextBetweenGenerations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ev := &wheelEvaluator{hook: func(call int) {
		if call == 1 {
			cancel()
		}
	}}
	result, err := newTestEngine(t, ev).Start(ctx, smallConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if len(result.Generations) != 1 || !result.Stopped {
		t.Fatalf("expected one finished generation, got %d stopped=%v", len(result.Generations), result.Stopped)
	}
}

func TestStartPropagatesEvaluatorError(t *testing.T) {
	boom := errors.New("boom")
	e := newTestEngine(t, &wheelEvaluator{fail: boom})
	if _, err := e.Start(context.Background(), smallConfig()); !errors.Is(err, boom) {
		t.Fatalf("expected evaluator error, got %v", err)
	}
	if e.State() != Idle {
		t.Fatalf("expected idle after failure, got %s", e.State())
	}
	if _, err := e.Start(context.Background(), Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("engine should accept another start after a failure, got %v", err)
	}
}

func TestMissingResultsScoreZero(t *testing.T) {
	cfg := smallConfig()
	cfg.Generations = 1
	result, err := newTestEngine(t, &wheelEvaluator{drop: 6}).Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, ind := range result.FinalPopulation {
		if ind.Score != 0 {
			t.Fatalf("individual %d scored %f without a result", i, ind.Score)
		}
	}
}

func TestZeroGenerationsFinishesWithoutEvaluating(t *testing.T) {
	ev := &wheelEvaluator{}
	cfg := smallConfig()
	cfg.Generations = 0
	result, err := newTestEngine(t, ev).Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if ev.calls != 0 || len(result.FinalPopulation) != cfg.PopulationSize || !result.Started {
		t.Fatalf("calls=%d population=%d started=%v", ev.calls, len(result.FinalPopulation), result.Started)
	}
}

func TestNotificationsArriveInOrder(t *testing.T) {
	e := newTestEngine(t, &wheelEvaluator{})
	listener := NewChannelListener(32)
	e.Notifier().Subscribe(listener)

	var seen []int
	unsubscribe := e.Notifier().Subscribe(ListenerFuncs{OnGeneration: func(ev GenerationCompleted) {
		seen = append(seen, ev.Index)
	}})

	if _, err := e.Start(context.Background(), smallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(listener.C) != 6 {
		t.Fatalf("expected 5 generation events and 1 finish, got %d", len(listener.C))
	}
	for i := 0; i < 5; i++ {
		ev, ok := (<-listener.C).(GenerationCompleted)
		if !ok || ev.Index != i || ev.Stats.Generation != i || ev.BestScore != ev.Stats.BestScore {
			t.Fatalf("event %d: unexpected %#v", i, ev)
		}
	}
	if _, ok := (<-listener.C).(EvolutionFinished); !ok {
		t.Fatal("expected finish event last")
	}
	if len(seen) != 5 {
		t.Fatalf("func listener saw %v", seen)
	}

	unsubscribe()
	if _, err := e.Start(context.Background(), smallConfig()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(seen) != 5 {
		t.Fatalf("unsubscribed listener still notified: %v", seen)
	}
}

func TestChannelListenerDropsWhenFull(t *testing.T) {
	listener := NewChannelListener(1)
	listener.GenerationCompleted(GenerationCompleted{Index: 0})
	listener.GenerationCompleted(GenerationCompleted{Index: 1})
	listener.EvolutionFinished(EvolutionFinished{})
	if listener.Dropped() != 2 || len(listener.C) != 1 {
		t.Fatalf("dropped=%d queued=%d", listener.Dropped(), len(listener.C))
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	cases := map[string]func(*Config){
		"population":    func(c *Config) { c.PopulationSize = 1 },
		"dna":           func(c *Config) { c.DNALength = 0 },
		"generations":   func(c *Config) { c.Generations = -1 },
		"retain zero":   func(c *Config) { c.RetainRatio = 0 },
		"retain high":   func(c *Config) { c.RetainRatio = 1.5 },
		"mutation high": func(c *Config) { c.MutationRate = 1.1 },
		"mutation low":  func(c *Config) { c.MutationRate = -0.1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestStatsCountDistinctGenomes(t *testing.T) {
	g, _ := genome.Parse("RW/CG")
	h, _ := genome.Parse("RRW/CCG")
	stats := summarizeGeneration(3, []Individual{{Genome: g, Score: 4}, {Genome: g, Score: 2}, {Genome: h, Score: 0}}, fitness.Race{BuildFailures: 1, Duration: 2 * time.Second})
	if stats.DistinctGenomes != 2 || stats.BestScore != 4 || stats.MinScore != 0 || stats.MeanScore != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.MeanLength != 7.0/3 || stats.BuildFailures != 1 || stats.RaceSeconds != 2 || stats.BestGenome != "RW/CG" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
