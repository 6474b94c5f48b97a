package stats

import "testing"

func TestWriteReadAndListSweeps(t *testing.T) {
	base := t.TempDir()
	sweepA := SweepRecord{
		ID:           "sweep-a",
		StartedAtUTC: "2026-02-27T00:00:00Z",
		Seeds:        []int64{1, 2},
		Results: []SweepResult{
			{Seed: 1, RunID: "sweep-a-seed-1", FinalBestScore: 3},
			{Seed: 2, RunID: "sweep-a-seed-2", FinalBestScore: 9},
		},
	}
	sweepB := SweepRecord{ID: "sweep-b", StartedAtUTC: "2026-02-28T00:00:00Z", Seeds: []int64{4}}
	undated := SweepRecord{ID: "sweep-c"}
	for _, rec := range []SweepRecord{sweepA, sweepB, undated} {
		if err := WriteSweep(base, rec); err != nil {
			t.Fatalf("write %s: %v", rec.ID, err)
		}
	}

	read, ok, err := ReadSweep(base, "sweep-a")
	if err != nil || !ok {
		t.Fatalf("read sweep a: ok=%v err=%v", ok, err)
	}
	if len(read.Results) != 2 || read.Results[1].RunID != "sweep-a-seed-2" {
		t.Fatalf("unexpected sweep a payload: %+v", read)
	}
	if _, ok, err := ReadSweep(base, "missing"); err != nil || ok {
		t.Fatalf("missing sweep: ok=%v err=%v", ok, err)
	}

	list, err := ListSweeps(base)
	if err != nil {
		t.Fatalf("list sweeps: %v", err)
	}
	if len(list) != 3 || list[0].ID != "sweep-b" || list[1].ID != "sweep-a" || list[2].ID != "sweep-c" {
		t.Fatalf("unexpected list ordering: %+v", list)
	}
}

func TestSweepBestPrefersLowerSeedOnTie(t *testing.T) {
	rec := SweepRecord{Results: []SweepResult{
		{Seed: 5, FinalBestScore: 7},
		{Seed: 2, FinalBestScore: 7},
		{Seed: 3, FinalBestScore: 1},
	}}
	best, ok := rec.Best()
	if !ok || best.Seed != 2 {
		t.Fatalf("unexpected best %+v ok=%v", best, ok)
	}
	if _, ok := (SweepRecord{}).Best(); ok {
		t.Fatal("empty sweep has no best")
	}
}

func TestWriteSweepRequiresID(t *testing.T) {
	if err := WriteSweep(t.TempDir(), SweepRecord{}); err == nil {
		t.Fatal("expected missing id error")
	}
	if _, _, err := ReadSweep(t.TempDir(), ""); err == nil {
		t.Fatal("expected missing id error")
	}
}
