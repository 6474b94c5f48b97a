package physics

import (
	"fmt"
	"math/rand"
)

// TerrainConfig shapes the random-walk ground.
type TerrainConfig struct {
	Points    int
	Spacing   float64
	StartY    float64
	Friction  float64
	BaseSigma float64
	// SigmaGrowth is added to the step deviation per point, so the ground
	// gets rougher the further a vehicle travels.
	SigmaGrowth float64
}

func DefaultTerrainConfig() TerrainConfig {
	return TerrainConfig{
		Points:      100,
		Spacing:     50,
		StartY:      200,
		Friction:    1,
		BaseSigma:   1,
		SigmaGrowth: 1,
	}
}

func (c TerrainConfig) Validate() error {
	if c.Points < 2 {
		return fmt.Errorf("terrain points must be >= 2, got %d", c.Points)
	}
	if c.Spacing <= 0 {
		return fmt.Errorf("terrain spacing must be > 0, got %f", c.Spacing)
	}
	if c.Friction < 0 {
		return fmt.Errorf("terrain friction must be >= 0, got %f", c.Friction)
	}
	return nil
}

// GenerateTerrain draws point i at x = i*Spacing with y following a random
// walk whose step i is N(0, BaseSigma + i*SigmaGrowth).
func GenerateTerrain(rng *rand.Rand, cfg TerrainConfig) (Terrain, error) {
	if err := cfg.Validate(); err != nil {
		return Terrain{}, err
	}
	points := make([]Vec2, cfg.Points)
	y := cfg.StartY
	for i := range points {
		y += rng.NormFloat64() * (cfg.BaseSigma + float64(i)*cfg.SigmaGrowth)
		points[i] = Vec2{X: float64(i) * cfg.Spacing, Y: y}
	}
	return Terrain{Points: points, Friction: cfg.Friction}, nil
}

// FlatTerrain is a level ground from x0 to x1 at height y.
func FlatTerrain(x0, x1, y, friction float64) Terrain {
	return Terrain{Points: []Vec2{{X: x0, Y: y}, {X: x1, Y: y}}, Friction: friction}
}

// HeightAt interpolates the ground height at x. Outside the polyline the end
// heights extend flat.
func (t Terrain) HeightAt(x float64) (float64, bool) {
	if len(t.Points) == 0 {
		return 0, false
	}
	if x <= t.Points[0].X {
		return t.Points[0].Y, true
	}
	for i := 1; i < len(t.Points); i++ {
		a, b := t.Points[i-1], t.Points[i]
		if x <= b.X {
			if b.X == a.X {
				return b.Y, true
			}
			f := (x - a.X) / (b.X - a.X)
			return a.Y + f*(b.Y-a.Y), true
		}
	}
	return t.Points[len(t.Points)-1].Y, true
}
