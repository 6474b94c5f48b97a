package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/calvinloveland/vroomon/internal/model"
)

const runIndexFile = "run_index.json"

var artifactFiles = []string{"config.json", "fitness_history.json", "top_genomes.json", "generations.json"}

type RunConfig struct {
	RunID          string  `json:"run_id"`
	PopulationSize int     `json:"population_size"`
	DNALength      int     `json:"dna_length"`
	Generations    int     `json:"generations"`
	RetainRatio    float64 `json:"retain_ratio"`
	MutationRate   float64 `json:"mutation_rate"`
	Seed           int64   `json:"seed"`
	Ticks          int     `json:"ticks"`
	TerrainPoints  int     `json:"terrain_points"`
	StoreKind      string  `json:"store_kind,omitempty"`
}

type TopGenome struct {
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`
	Genome string  `json:"genome"`
}

type RunArtifacts struct {
	Config           RunConfig                `json:"config"`
	BestByGeneration []float64                `json:"best_by_generation"`
	FinalBestScore   float64                  `json:"final_best_score"`
	Stopped          bool                     `json:"stopped"`
	TopGenomes       []TopGenome              `json:"top_genomes"`
	Generations      []model.GenerationRecord `json:"generations"`
}

type RunIndexEntry struct {
	RunID          string  `json:"run_id"`
	PopulationSize int     `json:"population_size"`
	Generations    int     `json:"generations"`
	Seed           int64   `json:"seed"`
	Stopped        bool    `json:"stopped"`
	FinalBestScore float64 `json:"final_best_score"`
	BestGenome     string  `json:"best_genome"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}

type fitnessHistory struct {
	BestByGeneration []float64 `json:"best_by_generation"`
	FinalBestScore   float64   `json:"final_best_score"`
	Stopped          bool      `json:"stopped"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	history := fitnessHistory{
		BestByGeneration: artifacts.BestByGeneration,
		FinalBestScore:   artifacts.FinalBestScore,
		Stopped:          artifacts.Stopped,
	}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), history); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "top_genomes.json"), artifacts.TopGenomes); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "generations.json"), artifacts.Generations); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns entries newest first. Entries sharing a timestamp keep
// the later appended one first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// LatestRunID is the newest indexed run, if any.
func LatestRunID(baseDir string) (string, bool, error) {
	index, err := ListRunIndex(baseDir)
	if err != nil {
		return "", false, err
	}
	if len(index) == 0 {
		return "", false, nil
	}
	return index[0].RunID, true, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range artifactFiles {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	seriesPath := filepath.Join(src, "fitness_series.csv")
	if _, err := os.Stat(seriesPath); err == nil {
		if err := copyFile(seriesPath, filepath.Join(dst, "fitness_series.csv")); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadTopGenomes(baseDir, runID string) ([]TopGenome, bool, error) {
	var top []TopGenome
	ok, err := readJSON(filepath.Join(baseDir, runID, "top_genomes.json"), &top)
	return top, ok, err
}

func ReadFitnessHistory(baseDir, runID string) ([]float64, bool, error) {
	var history fitnessHistory
	ok, err := readJSON(filepath.Join(baseDir, runID, "fitness_history.json"), &history)
	return history.BestByGeneration, ok, err
}

func ReadGenerations(baseDir, runID string) ([]model.GenerationRecord, bool, error) {
	var generations []model.GenerationRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, "generations.json"), &generations)
	return generations, ok, err
}

func WriteFitnessSeries(runDir string, bestByGeneration []float64) error {
	path := filepath.Join(runDir, "fitness_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_score"}); err != nil {
		return err
	}
	for i, best := range bestByGeneration {
		if err := writer.Write([]string{
			strconv.Itoa(i),
			strconv.FormatFloat(best, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadFitnessSeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "fitness_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	series := []float64{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) != 2 {
			return nil, false, fmt.Errorf("fitness series row has %d columns", len(record))
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func readJSON(path string, into any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, into); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
