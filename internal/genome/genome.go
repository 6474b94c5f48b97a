package genome

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvariantViolation marks a genome whose frame and powertrain sequences
// disagree in length or are empty.
var ErrInvariantViolation = errors.New("genome invariant violation")

// FrameGene selects the body part placed at one frame position.
type FrameGene uint8

const (
	Chassis FrameGene = iota
	Wheel
)

var frameGenes = [...]FrameGene{Chassis, Wheel}

func (g FrameGene) Symbol() byte {
	switch g {
	case Chassis:
		return 'R'
	case Wheel:
		return 'W'
	default:
		return '?'
	}
}

func (g FrameGene) String() string {
	switch g {
	case Chassis:
		return "chassis"
	case Wheel:
		return "wheel"
	default:
		return fmt.Sprintf("frame_gene(%d)", uint8(g))
	}
}

// PowertrainGene selects the drivetrain stage at one powertrain position.
type PowertrainGene uint8

const (
	Cylinder PowertrainGene = iota
	DriveShaft
	GearSet
)

var powertrainGenes = [...]PowertrainGene{Cylinder, DriveShaft, GearSet}

func (g PowertrainGene) Symbol() byte {
	switch g {
	case Cylinder:
		return 'C'
	case DriveShaft:
		return 'D'
	case GearSet:
		return 'G'
	default:
		return '?'
	}
}

func (g PowertrainGene) String() string {
	switch g {
	case Cylinder:
		return "cylinder"
	case DriveShaft:
		return "drive_shaft"
	case GearSet:
		return "gear_set"
	default:
		return fmt.Sprintf("powertrain_gene(%d)", uint8(g))
	}
}

// Genome pairs a frame sequence with an equal-length powertrain sequence.
type Genome struct {
	Frame      []FrameGene
	Powertrain []PowertrainGene
}

func (g Genome) Len() int {
	return len(g.Frame)
}

// Clone returns a copy that shares no backing arrays with g.
func (g Genome) Clone() Genome {
	return Genome{
		Frame:      append([]FrameGene(nil), g.Frame...),
		Powertrain: append([]PowertrainGene(nil), g.Powertrain...),
	}
}

func (g Genome) Equal(other Genome) bool {
	if len(g.Frame) != len(other.Frame) || len(g.Powertrain) != len(other.Powertrain) {
		return false
	}
	for i := range g.Frame {
		if g.Frame[i] != other.Frame[i] {
			return false
		}
	}
	for i := range g.Powertrain {
		if g.Powertrain[i] != other.Powertrain[i] {
			return false
		}
	}
	return true
}

// Wheels counts the wheel genes in the frame.
func (g Genome) Wheels() int {
	count := 0
	for _, gene := range g.Frame {
		if gene == Wheel {
			count++
		}
	}
	return count
}

// String renders the genome as "<frame>/<powertrain>", e.g. "RWRRW/CGDDG".
func (g Genome) String() string {
	var b strings.Builder
	b.Grow(len(g.Frame) + len(g.Powertrain) + 1)
	for _, gene := range g.Frame {
		b.WriteByte(gene.Symbol())
	}
	b.WriteByte('/')
	for _, gene := range g.Powertrain {
		b.WriteByte(gene.Symbol())
	}
	return b.String()
}

// Parse reads the textual form produced by String and validates the result.
func Parse(s string) (Genome, error) {
	frameText, powertrainText, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Genome{}, fmt.Errorf("parse genome %q: missing '/' separator", s)
	}

	g := Genome{
		Frame:      make([]FrameGene, 0, len(frameText)),
		Powertrain: make([]PowertrainGene, 0, len(powertrainText)),
	}
	for i := 0; i < len(frameText); i++ {
		switch frameText[i] {
		case 'R', 'r':
			g.Frame = append(g.Frame, Chassis)
		case 'W', 'w':
			g.Frame = append(g.Frame, Wheel)
		default:
			return Genome{}, fmt.Errorf("parse genome %q: unknown frame gene %q at %d", s, frameText[i], i)
		}
	}
	for i := 0; i < len(powertrainText); i++ {
		switch powertrainText[i] {
		case 'C', 'c':
			g.Powertrain = append(g.Powertrain, Cylinder)
		case 'D', 'd':
			g.Powertrain = append(g.Powertrain, DriveShaft)
		case 'G', 'g':
			g.Powertrain = append(g.Powertrain, GearSet)
		default:
			return Genome{}, fmt.Errorf("parse genome %q: unknown powertrain gene %q at %d", s, powertrainText[i], i)
		}
	}
	if err := Validate(g); err != nil {
		return Genome{}, fmt.Errorf("parse genome %q: %w", s, err)
	}
	return g, nil
}

// Validate reports whether g satisfies len(Frame) == len(Powertrain) >= 1.
func Validate(g Genome) error {
	if len(g.Frame) != len(g.Powertrain) {
		return fmt.Errorf("%w: frame length %d != powertrain length %d", ErrInvariantViolation, len(g.Frame), len(g.Powertrain))
	}
	if len(g.Frame) == 0 {
		return fmt.Errorf("%w: empty genome", ErrInvariantViolation)
	}
	return nil
}

func mustValid(op string, g Genome) Genome {
	if err := Validate(g); err != nil {
		panic(fmt.Errorf("%s: %w", op, err))
	}
	return g
}
