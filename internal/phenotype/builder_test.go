package phenotype

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/calvinloveland/vroomon/internal/genome"
	"github.com/calvinloveland/vroomon/internal/physics"
	"github.com/calvinloveland/vroomon/internal/physics/physicstest"
	"github.com/calvinloveland/vroomon/internal/powertrain"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	return newSeededBuilder(t, 1)
}

func newSeededBuilder(t *testing.T, seed int64) *Builder {
	t.Helper()
	b, err := NewBuilder(DefaultConfig(), powertrain.NewSolver(rand.New(rand.NewSource(seed))), rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	return b
}

func mustParse(t *testing.T, s string) genome.Genome {
	t.Helper()
	g, err := genome.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return g
}

func TestBuildEmptyFrameCreatesNoBody(t *testing.T) {
	world := physicstest.NewWorld(true)
	_, err := newTestBuilder(t).Build(world, genome.Genome{}, 2, physics.Vec2{})
	if !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
	if len(world.Bodies) != 0 {
		t.Fatalf("expected no bodies, got %d", len(world.Bodies))
	}
}

func TestBuildLaysOutChassisAndWheels(t *testing.T) {
	world := physicstest.NewWorld(true)
	spawn := physics.Vec2{X: 10, Y: 220}
	p, err := newTestBuilder(t).Build(world, mustParse(t, "RWRRW/CGDDG"), 5, spawn)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	chassis := world.Bodies[p.Chassis]
	if len(chassis.Def.Shapes) != 3 {
		t.Fatalf("expected 3 chassis boxes, got %d", len(chassis.Def.Shapes))
	}
	for i, wantX := range []float64{0, 20, 30} {
		shape := chassis.Def.Shapes[i]
		if shape.Kind != physics.ShapeBox || shape.Offset.X != wantX || shape.Width != 10 || shape.Height != 5 {
			t.Fatalf("box %d: unexpected shape %+v", i, shape)
		}
	}
	if chassis.Def.Position != spawn {
		t.Fatalf("chassis at %+v, want %+v", chassis.Def.Position, spawn)
	}

	if len(p.Wheels) != 2 {
		t.Fatalf("expected 2 wheels, got %d", len(p.Wheels))
	}
	for i, wantIndex := range []int{1, 4} {
		w := p.Wheels[i]
		if w.Index != wantIndex {
			t.Fatalf("wheel %d: index %d want %d", i, w.Index, wantIndex)
		}
		body := world.Bodies[w.Body]
		want := physics.Vec2{X: spawn.X + float64(wantIndex)*10, Y: spawn.Y}
		if body.Def.Position != want {
			t.Fatalf("wheel %d at %+v want %+v", i, body.Def.Position, want)
		}
		shape := body.Def.Shapes[0]
		if shape.Friction != 0.5 {
			t.Fatalf("wheel %d friction %f", i, shape.Friction)
		}
		if shape.Radius != w.Radius || w.Radius < 1 {
			t.Fatalf("wheel %d radius %f, shape radius %f", i, w.Radius, shape.Radius)
		}
		if want := 0.02 * math.Pi * w.Radius * w.Radius; math.Abs(body.Def.Mass-want) > 1e-9 {
			t.Fatalf("wheel %d mass %f, want %f from its area", i, body.Def.Mass, want)
		}
		joint := world.Joints[w.Joint]
		if joint.A != p.Chassis || joint.B != w.Body {
			t.Fatalf("wheel %d joint %+v not attached to chassis", i, joint)
		}
		if w.Drive.Power == 0 {
			t.Fatalf("wheel %d has no drive", i)
		}
	}
}

func TestBuildAssignsOwnCollisionGroup(t *testing.T) {
	world := physicstest.NewWorld(true)
	b := newTestBuilder(t)
	first, err := b.Build(world, mustParse(t, "RW/CG"), 2, physics.Vec2{})
	if err != nil {
		t.Fatalf("build first: %v", err)
	}
	second, err := b.Build(world, mustParse(t, "RW/CG"), 3, physics.Vec2{})
	if err != nil {
		t.Fatalf("build second: %v", err)
	}
	for _, p := range []*Phenotype{first, second} {
		for _, id := range []physics.BodyID{p.Chassis, p.Wheels[0].Body} {
			body := world.Bodies[id]
			if body.Group != p.Group || body.CollidesWith != physics.TerrainGroup {
				t.Fatalf("body %d group=%d collides=%d, want %d/%d", id, body.Group, body.CollidesWith, p.Group, physics.TerrainGroup)
			}
		}
	}
}

func TestBuildWheelOnlyFrameGetsHub(t *testing.T) {
	world := physicstest.NewWorld(true)
	p, err := newTestBuilder(t).Build(world, mustParse(t, "WW/CC"), 2, physics.Vec2{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(world.Bodies[p.Chassis].Def.Shapes) != 1 || len(p.Wheels) != 2 {
		t.Fatalf("unexpected layout: chassis shapes=%d wheels=%d", len(world.Bodies[p.Chassis].Def.Shapes), len(p.Wheels))
	}
}

func TestBuildFailureTearsDownPartialBody(t *testing.T) {
	world := physicstest.NewWorld(true)
	world.FailCreateBodyAt = 3
	_, err := newTestBuilder(t).Build(world, mustParse(t, "WRW/CCG"), 2, physics.Vec2{})
	if err == nil {
		t.Fatal("expected build error")
	}
	if !errors.Is(err, physics.ErrInvalidBody) {
		t.Fatalf("expected wrapped world error, got %v", err)
	}
	if n := world.LiveDynamicBodies(); n != 0 {
		t.Fatalf("expected all bodies destroyed, %d alive", n)
	}
	if n := world.LiveJoints(); n != 0 {
		t.Fatalf("expected all joints destroyed, %d alive", n)
	}
}

func TestDestroyRemovesJointsBeforeBodiesOnce(t *testing.T) {
	world := physicstest.NewWorld(true)
	p, err := newTestBuilder(t).Build(world, mustParse(t, "WRW/CDG"), 2, physics.Vec2{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	created := len(world.Log())
	p.Destroy(world)
	p.Destroy(world)

	teardown := world.Log()[created:]
	want := []string{"destroy-joint:0", "destroy-joint:1", "destroy-body:1", "destroy-body:2", "destroy-body:0"}
	if len(teardown) != len(want) {
		t.Fatalf("teardown %v, want %v", teardown, want)
	}
	for i := range want {
		if teardown[i] != want[i] {
			t.Fatalf("teardown %v, want %v", teardown, want)
		}
	}
}

func TestNewBuilderValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pitch = 0
	solver := powertrain.NewSolver(rand.New(rand.NewSource(1)))
	rng := rand.New(rand.NewSource(1))
	if _, err := NewBuilder(cfg, solver, rng); err == nil {
		t.Fatal("expected error for zero pitch")
	}
	cfg = DefaultConfig()
	cfg.WheelRadiusMin = 0
	if _, err := NewBuilder(cfg, solver, rng); err == nil {
		t.Fatal("expected error for zero minimum wheel radius")
	}
	if _, err := NewBuilder(DefaultConfig(), nil, rng); err == nil {
		t.Fatal("expected error for missing solver")
	}
	if _, err := NewBuilder(DefaultConfig(), solver, nil); err == nil {
		t.Fatal("expected error for missing rng")
	}
}

func wheelRadii(t *testing.T, b *Builder, dna string) []float64 {
	t.Helper()
	p, err := b.Build(physicstest.NewWorld(true), mustParse(t, dna), 2, physics.Vec2{})
	if err != nil {
		t.Fatalf("build %s: %v", dna, err)
	}
	radii := make([]float64, len(p.Wheels))
	for i, w := range p.Wheels {
		radii[i] = w.Radius
	}
	return radii
}

func TestWheelRadiiAreReproducibleUnderSeed(t *testing.T) {
	a := wheelRadii(t, newSeededBuilder(t, 11), "WWWW/CCCC")
	b := wheelRadii(t, newSeededBuilder(t, 11), "WWWW/CCCC")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("radii diverged under the same seed: %v vs %v", a, b)
		}
	}
	distinct := false
	for _, r := range a[1:] {
		if r != a[0] {
			distinct = true
		}
	}
	if !distinct {
		t.Fatalf("expected wheels of different sizes, got %v", a)
	}
}

func TestWheelRadiusIsFolded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WheelRadiusMean = -8
	cfg.WheelRadiusStdDev = 0
	b, err := NewBuilder(cfg, powertrain.NewSolver(rand.New(rand.NewSource(1))), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	if r := wheelRadii(t, b, "W/C"); r[0] != 8 {
		t.Fatalf("negative draw should fold to 8, got %f", r[0])
	}

	cfg.WheelRadiusMean = 0.2
	b, err = NewBuilder(cfg, powertrain.NewSolver(rand.New(rand.NewSource(1))), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	if r := wheelRadii(t, b, "W/C"); r[0] != cfg.WheelRadiusMin {
		t.Fatalf("small draw should floor at %f, got %f", cfg.WheelRadiusMin, r[0])
	}
}

func TestWheelDrivenThreshold(t *testing.T) {
	cases := []struct {
		power float64
		want  bool
	}{
		{power: 0, want: false},
		{power: 0.0009, want: false},
		{power: -0.0009, want: false},
		{power: MinDrivePower, want: true},
		{power: -5, want: true},
	}
	for _, tc := range cases {
		w := Wheel{Drive: powertrain.Output{Power: tc.power}}
		if got := w.Driven(); got != tc.want {
			t.Fatalf("power %g: driven=%v want %v", tc.power, got, tc.want)
		}
	}
}
