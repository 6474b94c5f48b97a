package physics

import (
	"errors"
	"math"
)

var (
	ErrUnknownBody  = errors.New("unknown body")
	ErrInvalidBody  = errors.New("invalid body definition")
	ErrInvalidJoint = errors.New("invalid joint")
)

// Vec2 is a point or direction in world units. The y axis points up.
type Vec2 struct {
	X float64
	Y float64
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

func (v Vec2) Scale(s float64) Vec2 { return Vec2{v.X * s, v.Y * s} }

func (v Vec2) Dot(o Vec2) float64 { return v.X*o.X + v.Y*o.Y }

func (v Vec2) Cross(o Vec2) float64 { return v.X*o.Y - v.Y*o.X }

func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

func (v Vec2) Perp() Vec2 { return Vec2{-v.Y, v.X} }

func (v Vec2) Rotate(angle float64) Vec2 {
	s, c := math.Sincos(angle)
	return Vec2{v.X*c - v.Y*s, v.X*s + v.Y*c}
}

func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return v.Scale(1 / l)
}

type BodyID int

type JointID int

// Group tags bodies for collision filtering and ray cast masks.
type Group uint32

// TerrainGroup is the group every terrain body belongs to.
const TerrainGroup Group = 1

type ShapeKind uint8

const (
	ShapeCircle ShapeKind = iota
	ShapeBox
)

// Shape is a collision shape attached to a body. Offset is relative to the
// body position.
type Shape struct {
	Kind     ShapeKind
	Offset   Vec2
	Radius   float64
	Width    float64
	Height   float64
	Friction float64
}

func Circle(radius, friction float64) Shape {
	return Shape{Kind: ShapeCircle, Radius: radius, Friction: friction}
}

func Box(offset Vec2, width, height, friction float64) Shape {
	return Shape{Kind: ShapeBox, Offset: offset, Width: width, Height: height, Friction: friction}
}

func (s Shape) area() float64 {
	switch s.Kind {
	case ShapeCircle:
		return math.Pi * s.Radius * s.Radius
	default:
		return s.Width * s.Height
	}
}

// BodyDef describes a dynamic rigid body. Mass is spread over the shapes by
// area.
type BodyDef struct {
	Position Vec2
	Mass     float64
	Shapes   []Shape
}

// Terrain is a static polyline ground.
type Terrain struct {
	Points   []Vec2
	Friction float64
}

// LowestPoint returns the smallest y of the terrain polyline.
func (t Terrain) LowestPoint() float64 {
	if len(t.Points) == 0 {
		return 0
	}
	lowest := t.Points[0].Y
	for _, p := range t.Points[1:] {
		lowest = math.Min(lowest, p.Y)
	}
	return lowest
}

// World is the rigid-body capability the race runs on. Implementations are
// not required to be safe for concurrent use; one race owns one world.
type World interface {
	CreateBody(def BodyDef) (BodyID, error)
	CreateTerrain(t Terrain) (BodyID, error)
	// CreatePivot joins a and b at the world-space anchor.
	CreatePivot(a, b BodyID, anchor Vec2) (JointID, error)
	// SetCollisionGroup puts body in group and limits its contacts to bodies
	// of collidesWith.
	SetCollisionGroup(body BodyID, group, collidesWith Group) error
	ApplyTorqueImpulse(body BodyID, impulse float64)
	ApplyLinearImpulse(body BodyID, impulse Vec2)
	// RayCast returns the first body of group mask hit by the segment from->to.
	RayCast(from, to Vec2, mask Group) (BodyID, bool)
	Step(dt float64)
	Position(body BodyID) (Vec2, bool)
	DestroyJoint(joint JointID)
	DestroyBody(body BodyID)
}

// WorldFactory hands out a fresh world per race.
type WorldFactory interface {
	NewWorld() (World, error)
}

type WorldFactoryFunc func() (World, error)

func (f WorldFactoryFunc) NewWorld() (World, error) {
	return f()
}
