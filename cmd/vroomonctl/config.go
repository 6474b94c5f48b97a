package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/calvinloveland/vroomon/internal/evo"
	"github.com/calvinloveland/vroomon/internal/fitness"
	"github.com/calvinloveland/vroomon/pkg/vroomon"
)

// runConfig is the evolution surface shared by the -config file and the run
// and sweep flags.
type runConfig struct {
	RunID          string  `json:"run_id"`
	PopulationSize int     `json:"population_size"`
	DNALength      int     `json:"dna_length"`
	Generations    int     `json:"generations"`
	RetainRatio    float64 `json:"retain_ratio"`
	MutationRate   float64 `json:"mutation_rate"`
	Seed           int64   `json:"seed"`
	Ticks          int     `json:"ticks"`
	TerrainSeed    int64   `json:"terrain_seed"`
}

func (c runConfig) request() vroomon.RunRequest {
	return vroomon.RunRequest{
		RunID:          c.RunID,
		PopulationSize: c.PopulationSize,
		DNALength:      c.DNALength,
		Generations:    c.Generations,
		RetainRatio:    c.RetainRatio,
		MutationRate:   c.MutationRate,
		Seed:           c.Seed,
		Ticks:          c.Ticks,
		TerrainSeed:    c.TerrainSeed,
	}
}

type runFlags struct {
	configPath  *string
	runID       *string
	population  *int
	dnaLength   *int
	generations *int
	retain      *float64
	mutation    *float64
	seed        *int64
	ticks       *int
	terrainSeed *int64
	storeKind   *string
	dbPath      *string
	runsDir     *string
	logFormat   *string
	metricsAddr *string
}

func registerRunFlags(fs *flag.FlagSet) *runFlags {
	def := evo.DefaultConfig()
	f := &runFlags{
		configPath:  fs.String("config", "", "optional run config JSON path"),
		runID:       fs.String("run-id", "", "explicit run id (optional)"),
		population:  fs.Int("pop", def.PopulationSize, "population size"),
		dnaLength:   fs.Int("dna", def.DNALength, "genes per frame and powertrain strand"),
		generations: fs.Int("gens", def.Generations, "generation count"),
		retain:      fs.Float64("retain", def.RetainRatio, "fraction of each generation kept as parents"),
		mutation:    fs.Float64("mutation", def.MutationRate, "per-gene mutation probability"),
		seed:        fs.Int64("seed", def.Seed, "rng seed"),
		ticks:       fs.Int("ticks", fitness.DefaultConfig().Ticks, "physics steps per race"),
		terrainSeed: fs.Int64("terrain-seed", 0, "terrain seed (0 uses -seed)"),
		logFormat:   fs.String("log-format", "text", "generation log format: text|json|none"),
		metricsAddr: fs.String("metrics-addr", "", "serve prometheus metrics on this address while running"),
	}
	f.storeKind, f.dbPath, f.runsDir = registerStoreFlags(fs)
	return f
}

func (f *runFlags) config() runConfig {
	return runConfig{
		RunID:          *f.runID,
		PopulationSize: *f.population,
		DNALength:      *f.dnaLength,
		Generations:    *f.generations,
		RetainRatio:    *f.retain,
		MutationRate:   *f.mutation,
		Seed:           *f.seed,
		Ticks:          *f.ticks,
		TerrainSeed:    *f.terrainSeed,
	}
}

// resolve builds the run config: flag values, then the -config file when
// given, then every flag that was set explicitly.
func (f *runFlags) resolve(fs *flag.FlagSet) (runConfig, error) {
	cfg := f.config()
	if *f.configPath == "" {
		return cfg, nil
	}
	cfg, err := loadRunConfig(*f.configPath, cfg)
	if err != nil {
		return runConfig{}, fmt.Errorf("load config: %w", err)
	}
	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	overrideFromFlags(&cfg, set, f.config())
	return cfg, nil
}

// loadRunConfig decodes path on top of base; fields the file omits keep the
// base value.
func loadRunConfig(path string, base runConfig) (runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return runConfig{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	cfg := base
	if err := dec.Decode(&cfg); err != nil {
		return runConfig{}, err
	}
	return cfg, nil
}

func overrideFromFlags(cfg *runConfig, set map[string]bool, flagValue runConfig) {
	for name := range set {
		switch name {
		case "run-id":
			cfg.RunID = flagValue.RunID
		case "pop":
			cfg.PopulationSize = flagValue.PopulationSize
		case "dna":
			cfg.DNALength = flagValue.DNALength
		case "gens":
			cfg.Generations = flagValue.Generations
		case "retain":
			cfg.RetainRatio = flagValue.RetainRatio
		case "mutation":
			cfg.MutationRate = flagValue.MutationRate
		case "seed":
			cfg.Seed = flagValue.Seed
		case "ticks":
			cfg.Ticks = flagValue.Ticks
		case "terrain-seed":
			cfg.TerrainSeed = flagValue.TerrainSeed
		}
	}
}
