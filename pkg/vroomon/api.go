package vroomon

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/pool"

	"github.com/calvinloveland/vroomon/internal/evo"
	"github.com/calvinloveland/vroomon/internal/fitness"
	"github.com/calvinloveland/vroomon/internal/genome"
	"github.com/calvinloveland/vroomon/internal/model"
	"github.com/calvinloveland/vroomon/internal/phenotype"
	"github.com/calvinloveland/vroomon/internal/physics"
	"github.com/calvinloveland/vroomon/internal/platform"
	"github.com/calvinloveland/vroomon/internal/powertrain"
	"github.com/calvinloveland/vroomon/internal/stats"
	"github.com/calvinloveland/vroomon/internal/storage"
	"github.com/calvinloveland/vroomon/internal/telemetry"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "vroomon.db"

	// DemoGenome is the hand-written vehicle raced when no genome is given.
	DemoGenome = "RWRRW/CGDDG"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	// Registerer receives the vroomon metrics when set.
	Registerer prometheus.Registerer
}

type Client struct {
	store   storage.Store
	metrics *telemetry.Metrics

	mu     sync.Mutex
	garage *platform.Garage

	// indexMu serializes run index updates from concurrent sweep runs.
	indexMu sync.Mutex

	storeKind  string
	runsDir    string
	exportsDir string
}

type RunRequest struct {
	RunID          string
	PopulationSize int
	DNALength      int
	Generations    int
	RetainRatio    float64
	MutationRate   float64
	Seed           int64
	// Ticks per race; 0 uses the fitness default.
	Ticks int
	// TerrainSeed defaults to Seed.
	TerrainSeed int64
	Listeners   []evo.Listener
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	Seed             int64
	BestByGeneration []float64
	Generations      []evo.GenerationStats
	FinalBestScore   float64
	BestGenome       string
	Stopped          bool
}

type SweepRequest struct {
	Base  RunRequest
	Seeds []int64
	// Concurrency bounds the evolutions running at once; 0 means one per seed.
	Concurrency int
	// ListenersFor, when set, adds listeners to each run once its id is known.
	ListenersFor func(runID string, seed int64) []evo.Listener
}

// SweepSummary is one sweep: its id and the per-seed runs ordered by seed.
// PlotPath is empty when no generation ran.
type SweepSummary struct {
	SweepID  string
	Runs     []RunSummary
	PlotPath string
}

type RaceRequest struct {
	Genomes []string
	Seed    int64
	Ticks   int
}

type RaceEntry struct {
	Genome string
	Score  float64
	Error  string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string
	CreatedAtUTC   string
	Seed           int64
	Population     int
	Generations    int
	Stopped        bool
	FinalBestScore float64
	BestGenome     string
}

// RunRef names a stored run either by id or as the newest one.
type RunRef struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	var metrics *telemetry.Metrics
	if opts.Registerer != nil {
		metrics, err = telemetry.NewMetrics(opts.Registerer)
		if err != nil {
			_ = storage.CloseIfSupported(store)
			return nil, err
		}
	}

	return &Client{
		store:      store,
		metrics:    metrics,
		storeKind:  storeKind,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureGarage(ctx)
	return err
}

func (c *Client) Reset(ctx context.Context) error {
	g, err := c.ensureGarage(ctx)
	if err != nil {
		return err
	}
	return g.Reset(ctx)
}

// StopRun asks an active run to end after its current generation.
func (c *Client) StopRun(ctx context.Context, runID string) error {
	g, err := c.ensureGarage(ctx)
	if err != nil {
		return err
	}
	return g.StopRun(runID)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	req = withRunDefaults(req)
	cfg := evolutionConfig(req)
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}

	g, err := c.ensureGarage(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	evaluator, err := newEvaluator(req.TerrainSeed, req.Seed, req.Ticks)
	if err != nil {
		return RunSummary{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = platform.NewRunID()
	}
	outcome, err := g.Run(ctx, platform.RunSpec{
		RunID:     runID,
		Evolution: cfg,
		Evaluator: evaluator,
		Ticks:     evaluator.Config().Ticks,
		Listeners: req.Listeners,
	})
	if err != nil {
		return RunSummary{}, err
	}

	top := make([]stats.TopGenome, 0, len(outcome.Top))
	for _, record := range outcome.Top {
		top = append(top, stats.TopGenome{Rank: record.Rank, Score: record.Score, Genome: record.Genome})
	}
	result := outcome.Result
	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          runID,
			PopulationSize: cfg.PopulationSize,
			DNALength:      cfg.DNALength,
			Generations:    cfg.Generations,
			RetainRatio:    cfg.RetainRatio,
			MutationRate:   cfg.MutationRate,
			Seed:           cfg.Seed,
			Ticks:          evaluator.Config().Ticks,
			TerrainPoints:  len(evaluator.Terrain().Points),
			StoreKind:      c.storeKind,
		},
		BestByGeneration: result.BestByGeneration,
		FinalBestScore:   result.Best.Score,
		Stopped:          result.Stopped,
		TopGenomes:       top,
		Generations:      platform.ToGenerationRecords(result.Generations),
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.WriteFitnessSeries(runDir, result.BestByGeneration); err != nil {
		return RunSummary{}, err
	}
	c.indexMu.Lock()
	err = stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:          runID,
		PopulationSize: cfg.PopulationSize,
		Generations:    cfg.Generations,
		Seed:           cfg.Seed,
		Stopped:        result.Stopped,
		FinalBestScore: result.Best.Score,
		BestGenome:     outcome.Record.BestGenome,
		CreatedAtUTC:   outcome.Record.CreatedAtUTC,
	})
	c.indexMu.Unlock()
	if err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:            runID,
		ArtifactsDir:     filepath.Clean(runDir),
		Seed:             cfg.Seed,
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		Generations:      append([]evo.GenerationStats(nil), result.Generations...),
		FinalBestScore:   result.Best.Score,
		BestGenome:       outcome.Record.BestGenome,
		Stopped:          result.Stopped,
	}, nil
}

// Sweep runs one independent evolution per seed. Each gets its own world
// factory, evaluator and engine; runs come back ordered by seed. The sweep id
// is the base run id when one is given.
func (c *Client) Sweep(ctx context.Context, req SweepRequest) (SweepSummary, error) {
	if len(req.Seeds) == 0 {
		return SweepSummary{}, errors.New("sweep requires at least one seed")
	}
	if req.Concurrency < 0 {
		return SweepSummary{}, errors.New("concurrency must be >= 0")
	}
	seen := make(map[int64]struct{}, len(req.Seeds))
	for _, seed := range req.Seeds {
		if _, dup := seen[seed]; dup {
			return SweepSummary{}, fmt.Errorf("duplicate sweep seed %d", seed)
		}
		seen[seed] = struct{}{}
	}
	if _, err := c.ensureGarage(ctx); err != nil {
		return SweepSummary{}, err
	}
	sweepID := req.Base.RunID
	if sweepID == "" {
		sweepID = "sweep-" + uuid.NewString()
	}
	started := time.Now().UTC()

	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = len(req.Seeds)
	}
	p := pool.NewWithResults[RunSummary]().
		WithMaxGoroutines(concurrency).
		WithContext(ctx).
		WithCancelOnError()
	for _, seed := range req.Seeds {
		run := req.Base
		run.Seed = seed
		if req.Base.RunID != "" {
			run.RunID = fmt.Sprintf("%s-seed-%d", req.Base.RunID, seed)
		} else {
			run.RunID = platform.NewRunID()
		}
		if req.ListenersFor != nil {
			run.Listeners = append(append([]evo.Listener(nil), req.Base.Listeners...), req.ListenersFor(run.RunID, seed)...)
		}
		p.Go(func(ctx context.Context) (RunSummary, error) {
			summary, err := c.Run(ctx, run)
			if err != nil {
				return RunSummary{}, fmt.Errorf("seed %d: %w", run.Seed, err)
			}
			return summary, nil
		})
	}
	summaries, err := p.Wait()
	if err != nil {
		return SweepSummary{}, err
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Seed < summaries[j].Seed
	})

	rec := stats.SweepRecord{
		ID:             sweepID,
		StartedAtUTC:   started.Format(time.RFC3339Nano),
		CompletedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Concurrency:    concurrency,
	}
	for _, s := range summaries {
		rec.Seeds = append(rec.Seeds, s.Seed)
		rec.Results = append(rec.Results, stats.SweepResult{
			Seed:           s.Seed,
			RunID:          s.RunID,
			FinalBestScore: s.FinalBestScore,
			BestGenome:     s.BestGenome,
			Stopped:        s.Stopped,
		})
	}
	histories := make([][]float64, 0, len(summaries))
	for _, s := range summaries {
		histories = append(histories, s.BestByGeneration)
	}
	rec.Curve = stats.BuildCurve(histories)
	if err := stats.WriteSweep(c.runsDir, rec); err != nil {
		return SweepSummary{}, err
	}
	out := SweepSummary{SweepID: sweepID, Runs: summaries}
	if len(rec.Curve) > 0 {
		out.PlotPath = stats.SweepPlotPath(c.runsDir, sweepID)
		if err := stats.WriteCurvePlot(out.PlotPath, sweepID, rec.Curve); err != nil {
			return SweepSummary{}, fmt.Errorf("plot sweep %s: %w", sweepID, err)
		}
	}
	return out, nil
}

// Sweeps lists recorded sweeps, newest first.
func (c *Client) Sweeps(_ context.Context) ([]stats.SweepRecord, error) {
	return stats.ListSweeps(c.runsDir)
}

// Race scores the given genomes together on one seeded terrain without
// evolving them. An empty request races DemoGenome.
func (c *Client) Race(ctx context.Context, req RaceRequest) ([]RaceEntry, error) {
	if len(req.Genomes) == 0 {
		req.Genomes = []string{DemoGenome}
	}
	genomes := make([]genome.Genome, 0, len(req.Genomes))
	for _, text := range req.Genomes {
		g, err := genome.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse genome %q: %w", text, err)
		}
		genomes = append(genomes, g)
	}
	evaluator, err := newEvaluator(req.Seed, req.Seed, req.Ticks)
	if err != nil {
		return nil, err
	}
	scored, _, err := evaluator.Evaluate(ctx, genomes)
	if err != nil {
		return nil, err
	}
	out := make([]RaceEntry, 0, len(scored))
	for _, s := range scored {
		entry := RaceEntry{Genome: s.Genome.String(), Score: s.Score}
		if s.Err != nil {
			entry.Error = s.Err.Error()
		}
		out = append(out, entry)
	}
	return out, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:          e.RunID,
			CreatedAtUTC:   e.CreatedAtUTC,
			Seed:           e.Seed,
			Population:     e.PopulationSize,
			Generations:    e.Generations,
			Stopped:        e.Stopped,
			FinalBestScore: e.FinalBestScore,
			BestGenome:     e.BestGenome,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(RunRef{RunID: req.RunID, Latest: req.Latest}, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) FitnessHistory(ctx context.Context, ref RunRef) ([]float64, error) {
	runID, err := c.resolveStoredRun(ctx, ref, "fitness history")
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if ref.Limit > 0 && len(history) > ref.Limit {
		history = history[:ref.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Generations(ctx context.Context, ref RunRef) ([]model.GenerationRecord, error) {
	runID, err := c.resolveStoredRun(ctx, ref, "generations")
	if err != nil {
		return nil, err
	}
	generations, ok, err := c.store.GetGenerations(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("generations not found for run id: %s", runID)
	}
	if ref.Limit > 0 && len(generations) > ref.Limit {
		generations = generations[:ref.Limit]
	}
	out := make([]model.GenerationRecord, len(generations))
	copy(out, generations)
	return out, nil
}

func (c *Client) TopGenomes(ctx context.Context, ref RunRef) ([]model.TopGenomeRecord, error) {
	runID, err := c.resolveStoredRun(ctx, ref, "top genomes")
	if err != nil {
		return nil, err
	}
	top, ok, err := c.store.GetTopGenomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("top genomes not found for run id: %s", runID)
	}
	if ref.Limit > 0 && len(top) > ref.Limit {
		top = top[:ref.Limit]
	}
	out := make([]model.TopGenomeRecord, len(top))
	copy(out, top)
	return out, nil
}

func (c *Client) resolveStoredRun(ctx context.Context, ref RunRef, what string) (string, error) {
	if ref.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ref, what)
	if err != nil {
		return "", err
	}
	if _, err := c.ensureGarage(ctx); err != nil {
		return "", err
	}
	return runID, nil
}

func (c *Client) resolveRunID(ref RunRef, what string) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if ref.Latest {
		runID, ok, err := stats.LatestRunID(c.runsDir)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errors.New("no runs available")
		}
		return runID, nil
	}
	if ref.RunID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return ref.RunID, nil
}

func (c *Client) ensureGarage(ctx context.Context) (*platform.Garage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.garage != nil {
		return c.garage, nil
	}
	g := platform.NewGarage(platform.Config{Store: c.store, Metrics: c.metrics})
	if err := g.Init(ctx); err != nil {
		return nil, err
	}
	c.garage = g
	return c.garage, nil
}

func withRunDefaults(req RunRequest) RunRequest {
	def := evo.DefaultConfig()
	if req.PopulationSize == 0 {
		req.PopulationSize = def.PopulationSize
	}
	if req.DNALength == 0 {
		req.DNALength = def.DNALength
	}
	if req.RetainRatio == 0 {
		req.RetainRatio = def.RetainRatio
	}
	if req.TerrainSeed == 0 {
		req.TerrainSeed = req.Seed
	}
	return req
}

func evolutionConfig(req RunRequest) evo.Config {
	return evo.Config{
		PopulationSize: req.PopulationSize,
		DNALength:      req.DNALength,
		Generations:    req.Generations,
		RetainRatio:    req.RetainRatio,
		MutationRate:   req.MutationRate,
		Seed:           req.Seed,
	}
}

// newEvaluator wires a seeded terrain, the reference physics world, a fresh
// powertrain solver and a builder into one evaluator. Wheel sizes draw from
// their own stream so they do not track the powertrain draws.
func newEvaluator(terrainSeed, solverSeed int64, ticks int) (*fitness.Evaluator, error) {
	terrain, err := physics.GenerateTerrain(rand.New(rand.NewSource(terrainSeed)), physics.DefaultTerrainConfig())
	if err != nil {
		return nil, err
	}
	solver := powertrain.NewSolver(rand.New(rand.NewSource(solverSeed)))
	builder, err := phenotype.NewBuilder(phenotype.DefaultConfig(), solver, rand.New(rand.NewSource(solverSeed+1)))
	if err != nil {
		return nil, err
	}
	cfg := fitness.DefaultConfig()
	if ticks > 0 {
		cfg.Ticks = ticks
	}
	return fitness.NewEvaluator(cfg, physics.ReferenceFactory(physics.DefaultReferenceConfig()), builder, terrain)
}
