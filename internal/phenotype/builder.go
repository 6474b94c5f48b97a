package phenotype

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/calvinloveland/vroomon/internal/genome"
	"github.com/calvinloveland/vroomon/internal/physics"
	"github.com/calvinloveland/vroomon/internal/powertrain"
)

// ErrEmptyFrame is returned for a genome with no frame genes. No body is
// created for it.
var ErrEmptyFrame = errors.New("empty frame")

// MinDrivePower is the smallest wheel power that gets a motor. Weaker wheels
// roll freely.
const MinDrivePower = 0.001

type Config struct {
	// Pitch is the spacing between frame positions along the build axis.
	Pitch float64

	ChassisWidth    float64
	ChassisHeight   float64
	ChassisMass     float64
	ChassisFriction float64

	// Each wheel draws its radius as |N(mean, stddev)|, floored at min.
	WheelRadiusMean   float64
	WheelRadiusStdDev float64
	WheelRadiusMin    float64
	// WheelDensity turns wheel area into mass.
	WheelDensity  float64
	WheelFriction float64
}

func DefaultConfig() Config {
	return Config{
		Pitch:             10,
		ChassisWidth:      10,
		ChassisHeight:     5,
		ChassisMass:       1,
		ChassisFriction:   0.5,
		WheelRadiusMean:   10,
		WheelRadiusStdDev: 5,
		WheelRadiusMin:    1,
		// same density as a 10x5 chassis box of mass 1
		WheelDensity:  0.02,
		WheelFriction: 0.5,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Pitch <= 0:
		return fmt.Errorf("pitch must be > 0")
	case c.ChassisWidth <= 0 || c.ChassisHeight <= 0:
		return fmt.Errorf("chassis box must have positive size")
	case c.ChassisMass <= 0:
		return fmt.Errorf("chassis mass must be > 0")
	case c.WheelRadiusMin <= 0:
		return fmt.Errorf("minimum wheel radius must be > 0")
	case c.WheelRadiusStdDev < 0:
		return fmt.Errorf("wheel radius stddev must be >= 0")
	case c.WheelDensity <= 0:
		return fmt.Errorf("wheel density must be > 0")
	}
	return nil
}

// Wheel is one driven wheel of a built phenotype.
type Wheel struct {
	Index  int
	Body   physics.BodyID
	Joint  physics.JointID
	Drive  powertrain.Output
	Offset physics.Vec2
	Radius float64
}

// Driven reports whether the wheel has enough power for a motor.
func (w Wheel) Driven() bool {
	return math.Abs(w.Drive.Power) >= MinDrivePower
}

// Phenotype is the physical body plan of one genome inside one world.
type Phenotype struct {
	Genome  genome.Genome
	Group   physics.Group
	Chassis physics.BodyID
	Wheels  []Wheel

	hasChassis bool
	destroyed  bool
}

// Builder is not safe for concurrent use: wheel sizes and drive both draw
// from shared rngs.
type Builder struct {
	cfg    Config
	solver *powertrain.Solver
	rng    *rand.Rand
}

func NewBuilder(cfg Config, solver *powertrain.Solver, rng *rand.Rand) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("phenotype config: %w", err)
	}
	if solver == nil {
		return nil, fmt.Errorf("powertrain solver is required")
	}
	if rng == nil {
		return nil, fmt.Errorf("rng is required")
	}
	return &Builder{cfg: cfg, solver: solver, rng: rng}, nil
}

func (b *Builder) Config() Config {
	return b.cfg
}

// Build places the genome at spawn. Every chassis gene adds a box to a single
// chassis body; every wheel gene adds a wheel body pivoted to the chassis at
// the same offset. All bodies join group and collide only with terrain. On
// failure every body created so far is destroyed.
func (b *Builder) Build(world physics.World, g genome.Genome, group physics.Group, spawn physics.Vec2) (*Phenotype, error) {
	if len(g.Frame) == 0 {
		return nil, ErrEmptyFrame
	}

	p := &Phenotype{Genome: g.Clone(), Group: group}
	chassis, err := world.CreateBody(b.chassisDef(g, spawn))
	if err != nil {
		return nil, fmt.Errorf("create chassis: %w", err)
	}
	p.Chassis = chassis
	p.hasChassis = true
	if err := world.SetCollisionGroup(chassis, group, physics.TerrainGroup); err != nil {
		p.Destroy(world)
		return nil, fmt.Errorf("chassis collision group: %w", err)
	}

	for i, gene := range g.Frame {
		if gene != genome.Wheel {
			continue
		}
		wheel, err := b.buildWheel(world, p, i, spawn)
		if err != nil {
			p.Destroy(world)
			return nil, fmt.Errorf("wheel %d: %w", i, err)
		}
		p.Wheels = append(p.Wheels, wheel)
	}
	return p, nil
}

// chassisDef lays out one box per chassis gene. A frame of only wheels still
// gets a small hub at the first position so the wheels have something to
// pivot on.
func (b *Builder) chassisDef(g genome.Genome, spawn physics.Vec2) physics.BodyDef {
	def := physics.BodyDef{Position: spawn}
	for i, gene := range g.Frame {
		if gene != genome.Chassis {
			continue
		}
		def.Shapes = append(def.Shapes, physics.Box(b.offset(i), b.cfg.ChassisWidth, b.cfg.ChassisHeight, b.cfg.ChassisFriction))
	}
	if len(def.Shapes) == 0 {
		def.Shapes = []physics.Shape{physics.Box(physics.Vec2{}, b.cfg.ChassisHeight, b.cfg.ChassisHeight, b.cfg.ChassisFriction)}
		def.Mass = b.cfg.ChassisMass / 2
		return def
	}
	def.Mass = b.cfg.ChassisMass * float64(len(def.Shapes))
	return def
}

func (b *Builder) buildWheel(world physics.World, p *Phenotype, index int, spawn physics.Vec2) (Wheel, error) {
	offset := b.offset(index)
	at := spawn.Add(offset)
	radius := b.wheelRadius()
	body, err := world.CreateBody(physics.BodyDef{
		Position: at,
		Mass:     b.cfg.WheelDensity * math.Pi * radius * radius,
		Shapes:   []physics.Shape{physics.Circle(radius, b.cfg.WheelFriction)},
	})
	if err != nil {
		return Wheel{}, err
	}
	if err := world.SetCollisionGroup(body, p.Group, physics.TerrainGroup); err != nil {
		world.DestroyBody(body)
		return Wheel{}, err
	}
	drive := b.solver.PowerForWheel(p.Genome.Powertrain, index)
	joint, err := world.CreatePivot(p.Chassis, body, at)
	if err != nil {
		world.DestroyBody(body)
		return Wheel{}, err
	}
	return Wheel{Index: index, Body: body, Joint: joint, Drive: drive, Offset: offset, Radius: radius}, nil
}

func (b *Builder) wheelRadius() float64 {
	r := math.Abs(b.cfg.WheelRadiusMean + b.rng.NormFloat64()*b.cfg.WheelRadiusStdDev)
	return math.Max(r, b.cfg.WheelRadiusMin)
}

func (b *Builder) offset(index int) physics.Vec2 {
	return physics.Vec2{X: float64(index) * b.cfg.Pitch}
}

// Destroy removes joints before bodies. Calling it again is a no-op.
func (p *Phenotype) Destroy(world physics.World) {
	if p == nil || p.destroyed {
		return
	}
	p.destroyed = true
	for _, w := range p.Wheels {
		world.DestroyJoint(w.Joint)
	}
	for _, w := range p.Wheels {
		world.DestroyBody(w.Body)
	}
	if p.hasChassis {
		world.DestroyBody(p.Chassis)
	}
}
