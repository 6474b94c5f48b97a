package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/calvinloveland/vroomon/internal/evo"
	"github.com/calvinloveland/vroomon/internal/platform"
	"github.com/calvinloveland/vroomon/internal/storage"
	"github.com/calvinloveland/vroomon/pkg/vroomon"
)

const (
	defaultRunsDir = "runs"
	exportsDir     = "exports"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "sweep":
		return runSweep(ctx, args[1:])
	case "sweeps":
		return runSweeps(ctx, args[1:])
	case "race":
		return runRace(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "fitness":
		return runFitness(ctx, args[1:])
	case "generations":
		return runGenerations(ctx, args[1:])
	case "top":
		return runTop(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func registerStoreFlags(fs *flag.FlagSet) (*string, *string, *string) {
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "vroomon.db", "sqlite database path")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	return storeKind, dbPath, runsDir
}

func openClient(storeKind, dbPath, runsDir string, reg prometheus.Registerer) (*vroomon.Client, error) {
	return vroomon.New(vroomon.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
		Registerer: reg,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind, dbPath, runsDir := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := openClient(*storeKind, *dbPath, *runsDir, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind, dbPath, runsDir := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := openClient(*storeKind, *dbPath, *runsDir, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}
	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

// observed is the logging and metrics wiring shared by run and sweep.
type observed struct {
	logger   *slog.Logger
	registry *prometheus.Registry
	stop     func()
}

func startObserving(f *runFlags) (observed, error) {
	logger, err := newLogger(os.Stderr, *f.logFormat)
	if err != nil {
		return observed{}, err
	}
	out := observed{logger: logger, stop: func() {}}
	if *f.metricsAddr != "" {
		out.registry = prometheus.NewRegistry()
		addr, stop, err := serveMetrics(*f.metricsAddr, out.registry)
		if err != nil {
			return observed{}, err
		}
		out.stop = stop
		fmt.Printf("metrics_addr=http://%s/metrics\n", addr)
	}
	return out, nil
}

func (o observed) listeners(runID string) []evo.Listener {
	if o.logger == nil {
		return nil
	}
	return []evo.Listener{logListener(o.logger, runID)}
}

// registerer keeps a nil registry from becoming a non-nil interface.
func (o observed) registerer() prometheus.Registerer {
	if o.registry == nil {
		return nil
	}
	return o.registry
}

// onInterrupt calls fn on the first interrupt and then restores default
// handling, so a second interrupt ends the process. The returned func
// releases the handler.
func onInterrupt(fn func()) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	return watchInterrupt(sig, func() { signal.Stop(sig) }, fn)
}

func watchInterrupt(sig <-chan os.Signal, restore, fn func()) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-sig:
			once.Do(restore)
			fn()
		case <-done:
		}
	}()
	return func() {
		once.Do(restore)
		close(done)
	}
}

// requestStop asks the run to stop and reports why it could not.
func requestStop(w io.Writer, stop func(string) error, runID string) {
	err := stop(runID)
	switch {
	case err == nil:
		fmt.Fprintf(w, "interrupt: stopping run_id=%s after the current generation\n", runID)
	case errors.Is(err, platform.ErrRunUnknown):
		fmt.Fprintf(w, "interrupt: run_id=%s is not active yet, interrupt again to quit\n", runID)
	default:
		fmt.Fprintf(w, "interrupt: stop run_id=%s: %v\n", runID, err)
	}
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	f := registerRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := f.resolve(fs)
	if err != nil {
		return err
	}
	if cfg.RunID == "" {
		cfg.RunID = platform.NewRunID()
	}

	obs, err := startObserving(f)
	if err != nil {
		return err
	}
	defer obs.stop()

	client, err := openClient(*f.storeKind, *f.dbPath, *f.runsDir, obs.registerer())
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := cfg.request()
	req.Listeners = obs.listeners(cfg.RunID)
	release := onInterrupt(func() {
		requestStop(os.Stderr, func(id string) error { return client.StopRun(ctx, id) }, cfg.RunID)
	})
	defer release()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run completed run_id=%s pop=%d dna=%d gens=%d seed=%d\n", summary.RunID, cfg.PopulationSize, cfg.DNALength, cfg.Generations, summary.Seed)
	for i, best := range summary.BestByGeneration {
		fmt.Printf("generation=%d best_score=%.6f\n", i+1, best)
	}
	fmt.Printf("final_best_score=%.6f best_genome=%s stopped=%t\n", summary.FinalBestScore, summary.BestGenome, summary.Stopped)
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runSweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	f := registerRunFlags(fs)
	seedsFlag := fs.String("seeds", "1,2,3", "comma-separated seeds, one evolution each")
	concurrency := fs.Int("concurrency", 0, "max evolutions running at once (0 runs every seed at once)")
	jsonOut := fs.Bool("json", false, "emit sweep summaries as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	seeds, err := parseSeeds(*seedsFlag)
	if err != nil {
		return err
	}
	cfg, err := f.resolve(fs)
	if err != nil {
		return err
	}

	obs, err := startObserving(f)
	if err != nil {
		return err
	}
	defer obs.stop()

	client, err := openClient(*f.storeKind, *f.dbPath, *f.runsDir, obs.registerer())
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	sweep, err := client.Sweep(ctx, vroomon.SweepRequest{
		Base:        cfg.request(),
		Seeds:       seeds,
		Concurrency: *concurrency,
		ListenersFor: func(runID string, _ int64) []evo.Listener {
			return obs.listeners(runID)
		},
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(sweep)
	}
	fmt.Printf("sweep completed sweep_id=%s seeds=%d\n", sweep.SweepID, len(sweep.Runs))
	for _, s := range sweep.Runs {
		fmt.Printf("seed=%d run_id=%s final_best_score=%.6f best_genome=%s\n", s.Seed, s.RunID, s.FinalBestScore, s.BestGenome)
	}
	if sweep.PlotPath != "" {
		fmt.Printf("plot=%s\n", filepath.Clean(sweep.PlotPath))
	}
	return nil
}

func runSweeps(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweeps", flag.ContinueOnError)
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	jsonOut := fs.Bool("json", false, "emit sweeps as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := vroomon.New(vroomon.Options{StoreKind: "memory", RunsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	sweeps, err := client.Sweeps(ctx)
	if err != nil {
		return err
	}
	if len(sweeps) == 0 {
		fmt.Println("no sweeps found")
		return nil
	}
	if *jsonOut {
		return writeJSON(sweeps)
	}
	for _, rec := range sweeps {
		best, ok := rec.Best()
		if !ok {
			fmt.Printf("sweep_id=%s started_at=%s seeds=%d\n", rec.ID, rec.StartedAtUTC, len(rec.Seeds))
			continue
		}
		fmt.Printf("sweep_id=%s started_at=%s seeds=%d best_seed=%d best_run_id=%s best_score=%.6f\n",
			rec.ID, rec.StartedAtUTC, len(rec.Seeds), best.Seed, best.RunID, best.FinalBestScore)
	}
	return nil
}

func parseSeeds(raw string) ([]int64, error) {
	var seeds []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seed, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse seed %q: %w", part, err)
		}
		seeds = append(seeds, seed)
	}
	if len(seeds) == 0 {
		return nil, errors.New("sweep requires at least one seed")
	}
	return seeds, nil
}

func runRace(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("race", flag.ContinueOnError)
	seed := fs.Int64("seed", 1, "terrain and solver seed")
	ticks := fs.Int("ticks", 0, "physics steps per race (0 uses the default)")
	jsonOut := fs.Bool("json", false, "emit race results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := vroomon.New(vroomon.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.Race(ctx, vroomon.RaceRequest{Genomes: fs.Args(), Seed: *seed, Ticks: *ticks})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(entries)
	}
	for i, e := range entries {
		if e.Error != "" {
			fmt.Printf("place=%d genome=%s score=%.6f error=%q\n", i+1, e.Genome, e.Score, e.Error)
			continue
		}
		fmt.Printf("place=%d genome=%s score=%.6f\n", i+1, e.Genome, e.Score)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := vroomon.New(vroomon.Options{StoreKind: "memory", RunsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, vroomon.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		return writeJSON(items)
	}
	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s age=%q seed=%d pop=%d gens=%d final_best_score=%.6f stopped=%t\n",
			item.RunID,
			item.CreatedAtUTC,
			runAge(item.CreatedAtUTC),
			item.Seed,
			item.Population,
			item.Generations,
			item.FinalBestScore,
			item.Stopped,
		)
	}
	return nil
}

func runAge(createdAtUTC string) string {
	created, err := time.Parse(time.RFC3339Nano, createdAtUTC)
	if err != nil {
		return "unknown"
	}
	return humanize.Time(created)
}

// lookupFlags are the flags shared by the commands that read one stored run.
type lookupFlags struct {
	runID     *string
	latest    *bool
	limit     *int
	jsonOut   *bool
	storeKind *string
	dbPath    *string
	runsDir   *string
}

func registerLookupFlags(fs *flag.FlagSet, what string, limit int) *lookupFlags {
	f := &lookupFlags{
		runID:   fs.String("run-id", "", "run id"),
		latest:  fs.Bool("latest", false, "use the most recent run from the run index"),
		limit:   fs.Int("limit", limit, "max entries to print (<=0 for all)"),
		jsonOut: fs.Bool("json", false, "emit "+what+" as JSON"),
	}
	f.storeKind, f.dbPath, f.runsDir = registerStoreFlags(fs)
	return f
}

func (f *lookupFlags) validate(cmd string) error {
	if *f.runID != "" && *f.latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *f.runID == "" && !*f.latest {
		return fmt.Errorf("%s requires --run-id or --latest", cmd)
	}
	return nil
}

func (f *lookupFlags) ref() vroomon.RunRef {
	limit := *f.limit
	if limit < 0 {
		limit = 0
	}
	return vroomon.RunRef{RunID: *f.runID, Latest: *f.latest, Limit: limit}
}

func runFitness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	f := registerLookupFlags(fs, "fitness history", 50)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate("fitness"); err != nil {
		return err
	}

	client, err := openClient(*f.storeKind, *f.dbPath, *f.runsDir, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.FitnessHistory(ctx, f.ref())
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no fitness history")
		return nil
	}
	if *f.jsonOut {
		return writeJSON(history)
	}
	for i, best := range history {
		fmt.Printf("generation=%d best_score=%.6f\n", i+1, best)
	}
	return nil
}

func runGenerations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generations", flag.ContinueOnError)
	f := registerLookupFlags(fs, "generation summaries", 50)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate("generations"); err != nil {
		return err
	}

	client, err := openClient(*f.storeKind, *f.dbPath, *f.runsDir, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	generations, err := client.Generations(ctx, f.ref())
	if err != nil {
		return err
	}
	if len(generations) == 0 {
		fmt.Println("no generations")
		return nil
	}
	if *f.jsonOut {
		return writeJSON(generations)
	}
	for _, g := range generations {
		fmt.Printf("generation=%d best=%.6f mean=%.6f min=%.6f build_failures=%d duplicate_pairings=%d distinct=%d mean_length=%.2f best_genome=%s\n",
			g.Generation+1,
			g.BestScore,
			g.MeanScore,
			g.MinScore,
			g.BuildFailures,
			g.DuplicatePairings,
			g.DistinctGenomes,
			g.MeanLength,
			g.BestGenome,
		)
	}
	return nil
}

func runTop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	f := registerLookupFlags(fs, "top genomes", platform.TopCount)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate("top"); err != nil {
		return err
	}

	client, err := openClient(*f.storeKind, *f.dbPath, *f.runsDir, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	top, err := client.TopGenomes(ctx, f.ref())
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Println("no top genomes")
		return nil
	}
	if *f.jsonOut {
		return writeJSON(top)
	}
	for _, item := range top {
		fmt.Printf("rank=%d score=%.6f genome=%s\n", item.Rank, item.Score, item.Genome)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from the run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := vroomon.New(vroomon.Options{StoreKind: "memory", RunsDir: *runsDir, ExportsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, vroomon.ExportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: vroomonctl <init|reset|run|sweep|sweeps|race|runs|fitness|generations|top|export> [flags]", msg)
}
