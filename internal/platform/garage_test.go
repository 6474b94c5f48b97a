package platform

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/calvinloveland/vroomon/internal/evo"
	"github.com/calvinloveland/vroomon/internal/fitness"
	"github.com/calvinloveland/vroomon/internal/genome"
	"github.com/calvinloveland/vroomon/internal/storage"
	"github.com/calvinloveland/vroomon/internal/telemetry"
)

// lengthEvaluator scores genomes by length; block, when set, is waited on
// during the first evaluation.
type lengthEvaluator struct {
	once    sync.Once
	entered chan struct{}
	block   chan struct{}
}

func (e *lengthEvaluator) Evaluate(_ context.Context, genomes []genome.Genome) ([]fitness.Scored, fitness.Race, error) {
	if e.block != nil {
		e.once.Do(func() {
			close(e.entered)
			<-e.block
		})
	}
	out := make([]fitness.Scored, len(genomes))
	for i, g := range genomes {
		out[i] = fitness.Scored{Index: i, Genome: g, Score: float64(g.Len())}
	}
	return out, fitness.Race{Entrants: len(genomes), Built: len(genomes)}, nil
}

func newTestGarage(t *testing.T) *Garage {
	t.Helper()
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	g := NewGarage(Config{Store: storage.NewMemoryStore(), Now: func() time.Time { return fixed }})
	if err := g.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return g
}

func testEvolution() evo.Config {
	return evo.Config{PopulationSize: 6, DNALength: 3, Generations: 3, RetainRatio: 0.5, MutationRate: 0.3, Seed: 2}
}

func TestGarageRunPersistsOutcome(t *testing.T) {
	ctx := context.Background()
	g := newTestGarage(t)

	outcome, err := g.Run(ctx, RunSpec{RunID: "run-a", Evolution: testEvolution(), Evaluator: &lengthEvaluator{}, Ticks: 60})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Record.Completed != 3 || outcome.Record.Ticks != 60 || outcome.Record.CreatedAtUTC != "2026-03-04T05:06:07Z" {
		t.Fatalf("unexpected record %+v", outcome.Record)
	}

	store := g.Store()
	run, ok, err := store.GetRun(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if run.BestGenome != outcome.Result.Best.Genome.String() || run.BestScore != outcome.Result.Best.Score {
		t.Fatalf("stored best %s/%f, result best %s/%f", run.BestGenome, run.BestScore, outcome.Result.Best.Genome, outcome.Result.Best.Score)
	}
	history, ok, err := store.GetFitnessHistory(ctx, "run-a")
	if err != nil || !ok || len(history) != 3 {
		t.Fatalf("unexpected history ok=%v err=%v %v", ok, err, history)
	}
	generations, ok, err := store.GetGenerations(ctx, "run-a")
	if err != nil || !ok || len(generations) != 3 || generations[2].Generation != 2 {
		t.Fatalf("unexpected generations ok=%v err=%v %+v", ok, err, generations)
	}
	top, ok, err := store.GetTopGenomes(ctx, "run-a")
	if err != nil || !ok || len(top) != TopCount {
		t.Fatalf("unexpected top ok=%v err=%v %+v", ok, err, top)
	}
	for i, record := range top {
		if record.Rank != i+1 {
			t.Fatalf("top %d has rank %d", i, record.Rank)
		}
		if _, err := genome.Parse(record.Genome); err != nil {
			t.Fatalf("top %d genome %q: %v", i, record.Genome, err)
		}
		if i > 0 && record.Score > top[i-1].Score {
			t.Fatalf("top genomes not ordered at %d", i)
		}
	}

	id, best, ok := g.Best()
	if !ok || id != "run-a" || best != outcome.Result.Best.Score {
		t.Fatalf("unexpected best %s %f %v", id, best, ok)
	}
	if len(g.ActiveRuns()) != 0 {
		t.Fatalf("run still registered: %v", g.ActiveRuns())
	}
}

func TestGarageGeneratesRunID(t *testing.T) {
	outcome, err := newTestGarage(t).Run(context.Background(), RunSpec{Evolution: testEvolution(), Evaluator: &lengthEvaluator{}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(outcome.RunID, "run-") || len(outcome.RunID) != len("run-")+36 {
		t.Fatalf("unexpected generated run id %q", outcome.RunID)
	}
}

func TestGarageStopRunAndDuplicateID(t *testing.T) {
	g := newTestGarage(t)
	ev := &lengthEvaluator{entered: make(chan struct{}), block: make(chan struct{})}
	cfg := testEvolution()
	cfg.Generations = 50

	done := make(chan RunOutcome, 1)
	errs := make(chan error, 1)
	go func() {
		outcome, err := g.Run(context.Background(), RunSpec{RunID: "run-b", Evolution: cfg, Evaluator: ev})
		done <- outcome
		errs <- err
	}()
	<-ev.entered

	if ids := g.ActiveRuns(); len(ids) != 1 || ids[0] != "run-b" {
		t.Fatalf("unexpected active runs %v", ids)
	}
	if _, err := g.Run(context.Background(), RunSpec{RunID: "run-b", Evolution: cfg, Evaluator: &lengthEvaluator{}}); !errors.Is(err, ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	if err := g.StopRun("run-b"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	close(ev.block)

	outcome := <-done
	if err := <-errs; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Record.Stopped || outcome.Record.Completed != 1 {
		t.Fatalf("expected a stopped run after one generation, got %+v", outcome.Record)
	}
	// lengthEvaluator scores every evaluated genome at least 1
	top, ok, err := g.Store().GetTopGenomes(context.Background(), "run-b")
	if err != nil || !ok || len(top) != TopCount {
		t.Fatalf("unexpected top ok=%v err=%v %+v", ok, err, top)
	}
	for _, record := range top {
		if record.Score < 1 {
			t.Fatalf("stopped run persisted an unevaluated child: %+v", record)
		}
	}
	if err := g.StopRun("run-b"); !errors.Is(err, ErrRunUnknown) {
		t.Fatalf("expected ErrRunUnknown after finish, got %v", err)
	}
}

func TestGarageRejectsInvalidRuns(t *testing.T) {
	g := NewGarage(Config{Store: storage.NewMemoryStore()})
	if _, err := g.Run(context.Background(), RunSpec{Evolution: testEvolution(), Evaluator: &lengthEvaluator{}}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := g.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := g.Run(context.Background(), RunSpec{Evolution: evo.Config{}, Evaluator: &lengthEvaluator{}}); !errors.Is(err, evo.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := g.Run(context.Background(), RunSpec{Evolution: testEvolution()}); err == nil {
		t.Fatal("expected missing evaluator error")
	}
	if err := NewGarage(Config{}).Init(context.Background()); err == nil {
		t.Fatal("expected missing store error")
	}
}

func TestGarageResetClearsStore(t *testing.T) {
	ctx := context.Background()
	g := newTestGarage(t)
	if _, err := g.Run(ctx, RunSpec{RunID: "run-c", Evolution: testEvolution(), Evaluator: &lengthEvaluator{}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := g.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := g.Store().GetRun(ctx, "run-c"); ok {
		t.Fatal("run survived reset")
	}
	if _, _, ok := g.Best(); ok {
		t.Fatal("best survived reset")
	}
}

func TestGarageFeedsMetricsAndListeners(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	g := NewGarage(Config{Store: storage.NewMemoryStore(), Metrics: metrics})
	if err := g.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	listener := evo.NewChannelListener(8)
	if _, err := g.Run(context.Background(), RunSpec{Evolution: testEvolution(), Evaluator: &lengthEvaluator{}, Listeners: []evo.Listener{listener}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(listener.C) != 4 {
		t.Fatalf("expected 3 generation events and a finish, got %d", len(listener.C))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		switch f.GetName() {
		case "vroomon_generations_total":
			if got := f.GetMetric()[0].GetCounter().GetValue(); got != 3 {
				t.Fatalf("generations counter %f", got)
			}
		case "vroomon_best_score":
			t.Fatalf("per-run gauge should be dropped after the run, got %d series", len(f.GetMetric()))
		}
	}
}
