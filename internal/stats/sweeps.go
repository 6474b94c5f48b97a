package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const sweepsDir = "sweeps"

// SweepRecord ties the runs of one seed sweep together.
type SweepRecord struct {
	ID             string        `json:"id"`
	StartedAtUTC   string        `json:"started_at_utc,omitempty"`
	CompletedAtUTC string        `json:"completed_at_utc,omitempty"`
	Seeds          []int64       `json:"seeds"`
	Concurrency    int           `json:"concurrency"`
	Results        []SweepResult `json:"results,omitempty"`
	Curve          []CurvePoint  `json:"curve,omitempty"`
}

type SweepResult struct {
	Seed           int64   `json:"seed"`
	RunID          string  `json:"run_id"`
	FinalBestScore float64 `json:"final_best_score"`
	BestGenome     string  `json:"best_genome"`
	Stopped        bool    `json:"stopped,omitempty"`
}

// Best returns the highest scoring result; ties keep the lower seed.
func (r SweepRecord) Best() (SweepResult, bool) {
	if len(r.Results) == 0 {
		return SweepResult{}, false
	}
	best := r.Results[0]
	for _, res := range r.Results[1:] {
		if res.FinalBestScore > best.FinalBestScore || (res.FinalBestScore == best.FinalBestScore && res.Seed < best.Seed) {
			best = res
		}
	}
	return best, true
}

func WriteSweep(baseDir string, rec SweepRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("sweep id is required")
	}
	path := sweepPath(baseDir, rec.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeJSON(path, rec)
}

func ReadSweep(baseDir, id string) (SweepRecord, bool, error) {
	if id == "" {
		return SweepRecord{}, false, fmt.Errorf("sweep id is required")
	}
	var rec SweepRecord
	ok, err := readJSON(sweepPath(baseDir, id), &rec)
	return rec, ok, err
}

// ListSweeps returns sweeps newest first; undated records sort last.
func ListSweeps(baseDir string) ([]SweepRecord, error) {
	matches, err := filepath.Glob(filepath.Join(baseDir, sweepsDir, "*", "sweep.json"))
	if err != nil {
		return nil, err
	}

	out := make([]SweepRecord, 0, len(matches))
	for _, path := range matches {
		var rec SweepRecord
		ok, err := readJSON(path, &rec)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		switch {
		case out[i].StartedAtUTC == out[j].StartedAtUTC:
			return out[i].ID < out[j].ID
		case out[i].StartedAtUTC == "":
			return false
		case out[j].StartedAtUTC == "":
			return true
		default:
			return out[i].StartedAtUTC > out[j].StartedAtUTC
		}
	})
	return out, nil
}

func sweepPath(baseDir, id string) string {
	return filepath.Join(baseDir, sweepsDir, id, "sweep.json")
}
