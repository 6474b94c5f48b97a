//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/calvinloveland/vroomon/internal/model"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "vroomon.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	run := model.RunRecord{
		VersionedRecord: CurrentVersion(),
		ID:              "run-1",
		PopulationSize:  4,
		Generations:     2,
		Seed:            7,
		BestScore:       12.5,
		BestGenome:      "RW/CG",
		CreatedAtUTC:    "2026-01-01T00:00:00Z",
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	run.BestScore = 13
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("upsert run: %v", err)
	}
	loaded, ok, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || loaded != run {
		t.Fatalf("unexpected run: ok=%v %+v", ok, loaded)
	}

	if err := store.SaveFitnessHistory(ctx, "run-1", []float64{1, 2}); err != nil {
		t.Fatalf("save history: %v", err)
	}
	history, ok, err := store.GetFitnessHistory(ctx, "run-1")
	if err != nil || !ok || len(history) != 2 || history[1] != 2 {
		t.Fatalf("unexpected history: ok=%v err=%v %+v", ok, err, history)
	}

	if err := store.SaveGenerations(ctx, "run-1", []model.GenerationRecord{{Generation: 0, BestScore: 1}, {Generation: 1, BestScore: 2}}); err != nil {
		t.Fatalf("save generations: %v", err)
	}
	generations, ok, err := store.GetGenerations(ctx, "run-1")
	if err != nil || !ok || len(generations) != 2 {
		t.Fatalf("unexpected generations: ok=%v err=%v %+v", ok, err, generations)
	}

	top := []model.TopGenomeRecord{{VersionedRecord: CurrentVersion(), Rank: 1, Score: 13, Genome: "RW/CG"}}
	if err := store.SaveTopGenomes(ctx, "run-1", top); err != nil {
		t.Fatalf("save top: %v", err)
	}
	loadedTop, ok, err := store.GetTopGenomes(ctx, "run-1")
	if err != nil || !ok || len(loadedTop) != 1 || loadedTop[0].Genome != "RW/CG" {
		t.Fatalf("unexpected top: ok=%v err=%v %+v", ok, err, loadedTop)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "vroomon.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, run := range []model.RunRecord{
		{VersionedRecord: CurrentVersion(), ID: "old", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{VersionedRecord: CurrentVersion(), ID: "new", CreatedAtUTC: "2026-02-01T00:00:00Z"},
	} {
		if err := first.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := NewSQLiteStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})
	runs, err := second.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	if err := second.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runs, err = second.ListRuns(ctx)
	if err != nil || len(runs) != 0 {
		t.Fatalf("expected empty store after reset, got %+v err=%v", runs, err)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "vroomon.db"))
	if err := store.SaveRun(context.Background(), model.RunRecord{ID: "run-1"}); err == nil {
		t.Fatal("expected error before init")
	}
	if err := NewSQLiteStore("").Init(context.Background()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNewStoreSQLite(t *testing.T) {
	store, err := NewStore("sqlite", filepath.Join(t.TempDir(), "vroomon.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close: %v", err)
	}
	if DefaultStoreKind() != "sqlite" {
		t.Fatalf("expected sqlite default kind, got %s", DefaultStoreKind())
	}
}
