package powertrain

import (
	"math"
	"math/rand"

	"github.com/calvinloveland/vroomon/internal/genome"
)

// InitialTorque is the torque every drivetrain walk starts from.
const InitialTorque = 10000.0

// Params holds the distributions each powertrain stage draws from.
type Params struct {
	CylinderPowerMean   float64
	CylinderPowerStdDev float64

	ShaftEfficiencyMean   float64
	ShaftEfficiencyStdDev float64
	// ShaftEfficiencyMax keeps every drive shaft lossy.
	ShaftEfficiencyMax float64

	GearRatioMean   float64
	GearRatioStdDev float64
	GearRatioMin    float64

	WheelProportionMean   float64
	WheelProportionStdDev float64
}

func DefaultParams() Params {
	return Params{
		CylinderPowerMean:     100,
		CylinderPowerStdDev:   0.25,
		ShaftEfficiencyMean:   0.9,
		ShaftEfficiencyStdDev: 0.1,
		ShaftEfficiencyMax:    0.999,
		GearRatioMean:         1,
		GearRatioStdDev:       1,
		GearRatioMin:          0.1,
		WheelProportionMean:   0.5,
		WheelProportionStdDev: 0.1,
	}
}

// Output is the drive delivered to one wheel. Torque is tracked alongside
// power but nothing downstream consumes it yet.
type Output struct {
	Power  float64
	Torque float64
}

// Solver derives per-wheel drive from a powertrain sequence. Every stage
// draws fresh losses, so repeated calls on the same genes differ.
type Solver struct {
	Rand   *rand.Rand
	Params Params
}

func NewSolver(rng *rand.Rand) *Solver {
	return &Solver{Rand: rng, Params: DefaultParams()}
}

// PowerForWheel walks genes[0..wheelIndex]. A gear set at wheelIndex ends the
// walk and hands the wheel its final-drive share; otherwise the accumulated
// power is returned unscaled.
func (s *Solver) PowerForWheel(genes []genome.PowertrainGene, wheelIndex int) Output {
	out := Output{Torque: InitialTorque}
	for i, gene := range genes {
		if i > wheelIndex {
			break
		}
		switch gene {
		case genome.Cylinder:
			out.Power += s.cylinderPower()
		case genome.DriveShaft:
			efficiency := s.shaftEfficiency()
			out.Power *= efficiency
			out.Torque *= efficiency
		case genome.GearSet:
			ratio := s.gearRatio()
			out.Power *= ratio
			out.Torque /= ratio
			if i == wheelIndex {
				proportion := s.wheelProportion()
				out.Power *= proportion
				out.Torque *= proportion
				return out
			}
		}
	}
	return out
}

func (s *Solver) cylinderPower() float64 {
	return s.normal(s.Params.CylinderPowerMean, s.Params.CylinderPowerStdDev)
}

func (s *Solver) shaftEfficiency() float64 {
	e := s.normal(s.Params.ShaftEfficiencyMean, s.Params.ShaftEfficiencyStdDev)
	if e > s.Params.ShaftEfficiencyMax {
		e = s.Params.ShaftEfficiencyMax
	}
	return math.Max(e, 0)
}

func (s *Solver) gearRatio() float64 {
	return math.Max(s.normal(s.Params.GearRatioMean, s.Params.GearRatioStdDev), s.Params.GearRatioMin)
}

func (s *Solver) wheelProportion() float64 {
	return s.normal(s.Params.WheelProportionMean, s.Params.WheelProportionStdDev)
}

func (s *Solver) normal(mean, stddev float64) float64 {
	return mean + s.Rand.NormFloat64()*stddev
}
