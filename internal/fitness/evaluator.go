package fitness

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/calvinloveland/vroomon/internal/genome"
	"github.com/calvinloveland/vroomon/internal/phenotype"
	"github.com/calvinloveland/vroomon/internal/physics"
)

const (
	// HeightWeight scales the height lost during the race into score.
	HeightWeight = 0.5
	// FallPenalty multiplies the score of a vehicle that ended below the
	// fall line.
	FallPenalty = 0.1
)

type Config struct {
	Ticks       int
	TickSeconds float64
	// TorqueScale converts wheel power into the spin impulse applied each tick.
	TorqueScale float64
	// ThrustScale converts wheel power into the forward impulse applied each
	// tick while the wheel touches terrain.
	ThrustScale float64
	// RayMargin extends the traction ray beyond the wheel radius.
	RayMargin float64
	// FallMargin places the fall line this far under the lowest terrain point.
	FallMargin float64
	// SpawnX and SpawnHeight place every vehicle relative to the terrain start.
	SpawnX      float64
	SpawnHeight float64
}

func DefaultConfig() Config {
	return Config{
		Ticks:       1800,
		TickSeconds: 1.0 / 60,
		TorqueScale: 0.1,
		ThrustScale: 0.02,
		RayMargin:   2,
		FallMargin:  100,
		SpawnX:      10,
		SpawnHeight: 20,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Ticks < 0:
		return fmt.Errorf("ticks must be >= 0, got %d", c.Ticks)
	case c.TickSeconds <= 0:
		return fmt.Errorf("tick seconds must be > 0, got %f", c.TickSeconds)
	case c.RayMargin < 0:
		return fmt.Errorf("ray margin must be >= 0, got %f", c.RayMargin)
	case c.FallMargin < 0:
		return fmt.Errorf("fall margin must be >= 0, got %f", c.FallMargin)
	}
	return nil
}

// Scored is one genome's race outcome. Err is set when the genome could not
// be built; such genomes score 0.
type Scored struct {
	Index  int
	Genome genome.Genome
	Score  float64
	Err    error
}

// Race describes one batched evaluation.
type Race struct {
	Entrants      int
	Built         int
	BuildFailures int
	Ticks         int
	Duration      time.Duration
}

// Evaluator races whole populations in one shared world. Only one race runs
// at a time; further callers wait for the slot.
type Evaluator struct {
	cfg      Config
	factory  physics.WorldFactory
	builder  *phenotype.Builder
	terrain  physics.Terrain
	spawn    physics.Vec2
	fallLine float64
	sem      chan struct{}
}

func NewEvaluator(cfg Config, factory physics.WorldFactory, builder *phenotype.Builder, terrain physics.Terrain) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fitness config: %w", err)
	}
	if factory == nil {
		return nil, fmt.Errorf("world factory is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("phenotype builder is required")
	}
	if len(terrain.Points) < 2 {
		return nil, fmt.Errorf("terrain needs at least two points, got %d", len(terrain.Points))
	}
	spawnX := terrain.Points[0].X + cfg.SpawnX
	ground, _ := terrain.HeightAt(spawnX)
	return &Evaluator{
		cfg:      cfg,
		factory:  factory,
		builder:  builder,
		terrain:  terrain,
		spawn:    physics.Vec2{X: spawnX, Y: ground + cfg.SpawnHeight},
		fallLine: terrain.LowestPoint() - cfg.FallMargin,
		sem:      make(chan struct{}, 1),
	}, nil
}

func (e *Evaluator) Config() Config {
	return e.cfg
}

func (e *Evaluator) Terrain() physics.Terrain {
	return e.terrain
}

// Evaluate builds every genome into a fresh world, races them together and
// returns the outcomes sorted by descending score, ties in input order. A
// genome that fails to build scores 0 without affecting the rest. Only the
// wait for the race slot observes ctx; a started race always runs to the end.
func (e *Evaluator) Evaluate(ctx context.Context, genomes []genome.Genome) ([]Scored, Race, error) {
	if err := ctx.Err(); err != nil {
		return nil, Race{}, err
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, Race{}, ctx.Err()
	}
	defer func() { <-e.sem }()

	started := time.Now()
	world, err := e.factory.NewWorld()
	if err != nil {
		return nil, Race{}, fmt.Errorf("new world: %w", err)
	}
	if _, err := world.CreateTerrain(e.terrain); err != nil {
		return nil, Race{}, fmt.Errorf("create terrain: %w", err)
	}

	race := Race{Entrants: len(genomes)}
	scored := make([]Scored, len(genomes))
	entrants := make([]*phenotype.Phenotype, len(genomes))
	starts := make([]physics.Vec2, len(genomes))
	defer func() {
		for _, p := range entrants {
			p.Destroy(world)
		}
	}()

	for i, g := range genomes {
		scored[i] = Scored{Index: i, Genome: g.Clone()}
		p, err := e.builder.Build(world, g, entrantGroup(i), e.spawn)
		if err != nil {
			scored[i].Err = err
			race.BuildFailures++
			continue
		}
		entrants[i] = p
		starts[i], _ = world.Position(p.Chassis)
		race.Built++
	}

	if race.Built > 0 {
		for tick := 0; tick < e.cfg.Ticks; tick++ {
			for _, p := range entrants {
				if p != nil {
					e.drive(world, p)
				}
			}
			world.Step(e.cfg.TickSeconds)
			race.Ticks++
		}
	}

	for i, p := range entrants {
		if p == nil {
			continue
		}
		end, ok := world.Position(p.Chassis)
		if !ok {
			continue
		}
		scored[i].Score = Score(starts[i], end, e.fallLine)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	race.Duration = time.Since(started)
	return scored, race, nil
}

// drive spins every driven wheel and pushes it forward only while a ray
// just longer than its radius reaches the terrain.
func (e *Evaluator) drive(world physics.World, p *phenotype.Phenotype) {
	for _, w := range p.Wheels {
		if !w.Driven() {
			continue
		}
		power := w.Drive.Power
		world.ApplyTorqueImpulse(w.Body, -power*e.cfg.TorqueScale)
		at, ok := world.Position(w.Body)
		if !ok {
			continue
		}
		reach := w.Radius + e.cfg.RayMargin
		if _, hit := world.RayCast(at, at.Add(physics.Vec2{Y: -reach}), physics.TerrainGroup); hit {
			world.ApplyLinearImpulse(w.Body, physics.Vec2{X: power * e.cfg.ThrustScale})
		}
	}
}

// Score rewards forward travel and height lost, and cuts the result to a
// tenth when the vehicle ends below fallLine.
func Score(start, end physics.Vec2, fallLine float64) float64 {
	score := math.Max(0, end.X-start.X) + math.Max(0, HeightWeight*(start.Y-end.Y))
	if end.Y < fallLine {
		score *= FallPenalty
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}

// entrantGroup keeps group ids clear of the terrain group.
func entrantGroup(i int) physics.Group {
	return physics.TerrainGroup + 1 + physics.Group(i)
}
