package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarizes one finished or stopped evolution run.
type RunRecord struct {
	VersionedRecord
	ID             string  `json:"id"`
	PopulationSize int     `json:"population_size"`
	DNALength      int     `json:"dna_length"`
	Generations    int     `json:"generations"`
	RetainRatio    float64 `json:"retain_ratio"`
	MutationRate   float64 `json:"mutation_rate"`
	Seed           int64   `json:"seed"`
	Ticks          int     `json:"ticks"`
	// Completed is the number of generations actually evaluated.
	Completed     int     `json:"completed"`
	Stopped       bool    `json:"stopped"`
	BestScore     float64 `json:"best_score"`
	BestGenome    string  `json:"best_genome"`
	CreatedAtUTC  string  `json:"created_at_utc"`
	FinishedAtUTC string  `json:"finished_at_utc"`
}

type GenerationRecord struct {
	Generation        int     `json:"generation"`
	BestScore         float64 `json:"best_score"`
	MeanScore         float64 `json:"mean_score"`
	MinScore          float64 `json:"min_score"`
	BuildFailures     int     `json:"build_failures"`
	DuplicatePairings int     `json:"duplicate_pairings"`
	DistinctGenomes   int     `json:"distinct_genomes"`
	MeanLength        float64 `json:"mean_length"`
	RaceSeconds       float64 `json:"race_seconds"`
	BestGenome        string  `json:"best_genome"`
}

// TopGenomeRecord keeps genomes in their text form ("RWW/CGD") so records stay
// readable in JSON payloads.
type TopGenomeRecord struct {
	VersionedRecord
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`
	Genome string  `json:"genome"`
}
