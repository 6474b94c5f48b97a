package physics

import (
	"fmt"
	"math"

	"github.com/jakecoffman/cp"
)

// ReferenceConfig tunes the Chipmunk space behind ReferenceWorld.
type ReferenceConfig struct {
	Gravity    Vec2
	Iterations int
	// TerrainRadius is the thickness given to every terrain segment.
	TerrainRadius float64
	// MaxAngularSpeed caps body spin after each step. Zero disables it.
	MaxAngularSpeed float64
}

func DefaultReferenceConfig() ReferenceConfig {
	return ReferenceConfig{
		Gravity:         Vec2{Y: -98},
		Iterations:      10,
		TerrainRadius:   0.5,
		MaxAngularSpeed: 80,
	}
}

// Collision categories. Terrain collides with everything; vehicles only
// with the category their collidesWith group maps to.
const (
	terrainCategory uint = 1 << iota
	bodyCategory
)

// ReferenceWorld adapts a cp.Space to World. Body and joint ids index the
// adapter's own tables so destroyed ids stay stable.
type ReferenceWorld struct {
	cfg    ReferenceConfig
	space  *cp.Space
	bodies []*refBody
	joints []*refJoint
	owner  map[*cp.Shape]BodyID
}

type refBody struct {
	alive  bool
	static bool
	body   *cp.Body
	shapes []*cp.Shape
	// origin is the BodyDef position in body-local coordinates. The cp body
	// sits at the centroid of its shapes.
	origin Vec2
	group  Group
}

type refJoint struct {
	alive      bool
	a, b       BodyID
	constraint *cp.Constraint
}

func NewReferenceWorld(cfg ReferenceConfig) *ReferenceWorld {
	if cfg.Iterations < 1 {
		cfg.Iterations = 1
	}
	space := cp.NewSpace()
	space.SetGravity(vec(cfg.Gravity))
	space.Iterations = uint(cfg.Iterations)
	return &ReferenceWorld{cfg: cfg, space: space, owner: make(map[*cp.Shape]BodyID)}
}

// ReferenceFactory builds a fresh ReferenceWorld per call.
func ReferenceFactory(cfg ReferenceConfig) WorldFactory {
	return WorldFactoryFunc(func() (World, error) {
		return NewReferenceWorld(cfg), nil
	})
}

func (w *ReferenceWorld) CreateBody(def BodyDef) (BodyID, error) {
	if def.Mass <= 0 || math.IsNaN(def.Mass) {
		return 0, fmt.Errorf("%w: mass must be > 0, got %f", ErrInvalidBody, def.Mass)
	}
	if len(def.Shapes) == 0 {
		return 0, fmt.Errorf("%w: body needs at least one shape", ErrInvalidBody)
	}

	totalArea := 0.0
	var centroid Vec2
	for i, s := range def.Shapes {
		a := s.area()
		if a <= 0 || math.IsNaN(a) {
			return 0, fmt.Errorf("%w: shape %d has no area", ErrInvalidBody, i)
		}
		totalArea += a
		centroid = centroid.Add(s.Offset.Scale(a))
	}
	centroid = centroid.Scale(1 / totalArea)

	moment := 0.0
	for _, s := range def.Shapes {
		m := def.Mass * s.area() / totalArea
		local := s.Offset.Sub(centroid)
		switch s.Kind {
		case ShapeCircle:
			moment += cp.MomentForCircle(m, 0, s.Radius, vec(local))
		default:
			moment += cp.MomentForBox(m, s.Width, s.Height) + m*local.Dot(local)
		}
	}

	body := w.space.AddBody(cp.NewBody(def.Mass, moment))
	body.SetPosition(vec(def.Position.Add(centroid)))

	id := BodyID(len(w.bodies))
	b := &refBody{alive: true, body: body, origin: centroid.Scale(-1)}
	for _, s := range def.Shapes {
		local := s.Offset.Sub(centroid)
		var shape *cp.Shape
		switch s.Kind {
		case ShapeCircle:
			shape = cp.NewCircle(body, s.Radius, vec(local))
		default:
			hw, hh := s.Width/2, s.Height/2
			shape = cp.NewBox2(body, cp.BB{L: local.X - hw, B: local.Y - hh, R: local.X + hw, T: local.Y + hh}, 0)
		}
		shape.SetFriction(s.Friction)
		b.shapes = append(b.shapes, w.space.AddShape(shape))
		w.owner[shape] = id
	}
	w.bodies = append(w.bodies, b)
	w.applyFilter(b, 0, TerrainGroup)
	return id, nil
}

// CreateTerrain lays one static segment per polyline edge.
func (w *ReferenceWorld) CreateTerrain(t Terrain) (BodyID, error) {
	if len(t.Points) < 2 {
		return 0, fmt.Errorf("%w: terrain needs at least two points", ErrInvalidBody)
	}
	for i := 1; i < len(t.Points); i++ {
		if t.Points[i].X < t.Points[i-1].X {
			return 0, fmt.Errorf("%w: terrain x must not decrease at point %d", ErrInvalidBody, i)
		}
	}

	id := BodyID(len(w.bodies))
	b := &refBody{alive: true, static: true, body: w.space.StaticBody, group: TerrainGroup}
	filter := cp.NewShapeFilter(uint(TerrainGroup), terrainCategory, cp.ALL_CATEGORIES)
	for i := 1; i < len(t.Points); i++ {
		seg := cp.NewSegment(w.space.StaticBody, vec(t.Points[i-1]), vec(t.Points[i]), w.cfg.TerrainRadius)
		seg.SetFriction(t.Friction)
		seg.SetFilter(filter)
		b.shapes = append(b.shapes, w.space.AddShape(seg))
		w.owner[seg] = id
	}
	w.bodies = append(w.bodies, b)
	return id, nil
}

func (w *ReferenceWorld) CreatePivot(a, b BodyID, anchor Vec2) (JointID, error) {
	ba, ok := w.body(a)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownBody, a)
	}
	bb, ok := w.body(b)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownBody, b)
	}
	if a == b || ba.static || bb.static {
		return 0, fmt.Errorf("%w: pivot needs two distinct dynamic bodies", ErrInvalidJoint)
	}
	c := w.space.AddConstraint(cp.NewPivotJoint(ba.body, bb.body, vec(anchor)))
	w.joints = append(w.joints, &refJoint{alive: true, a: a, b: b, constraint: c})
	return JointID(len(w.joints) - 1), nil
}

func (w *ReferenceWorld) SetCollisionGroup(body BodyID, group, collidesWith Group) error {
	b, ok := w.body(body)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBody, body)
	}
	w.applyFilter(b, group, collidesWith)
	return nil
}

// applyFilter maps a group pair onto a cp filter. Shapes sharing a non-zero
// group never collide, so the parts of one vehicle pass through each other.
func (w *ReferenceWorld) applyFilter(b *refBody, group, collidesWith Group) {
	b.group = group
	filter := cp.NewShapeFilter(uint(group), categoryOf(group), categoryOf(collidesWith))
	for _, s := range b.shapes {
		s.SetFilter(filter)
	}
}

func categoryOf(g Group) uint {
	if g == TerrainGroup {
		return terrainCategory
	}
	return bodyCategory
}

// ApplyTorqueImpulse changes spin by impulse over the body's moment.
func (w *ReferenceWorld) ApplyTorqueImpulse(body BodyID, impulse float64) {
	if b, ok := w.body(body); ok && !b.static {
		b.body.SetAngularVelocity(b.body.AngularVelocity() + impulse/b.body.Moment())
	}
}

func (w *ReferenceWorld) ApplyLinearImpulse(body BodyID, impulse Vec2) {
	if b, ok := w.body(body); ok && !b.static {
		b.body.ApplyImpulseAtWorldPoint(vec(impulse), b.body.Position())
	}
}

func (w *ReferenceWorld) RayCast(from, to Vec2, mask Group) (BodyID, bool) {
	filter := cp.NewShapeFilter(0, cp.ALL_CATEGORIES, categoryOf(mask))
	info := w.space.SegmentQueryFirst(vec(from), vec(to), 0, filter)
	if info.Shape == nil {
		return -1, false
	}
	id, ok := w.owner[info.Shape]
	if !ok || w.bodies[id].group != mask {
		return -1, false
	}
	return id, true
}

func (w *ReferenceWorld) Step(dt float64) {
	if dt <= 0 {
		return
	}
	w.space.Step(dt)
	if limit := w.cfg.MaxAngularSpeed; limit > 0 {
		for _, b := range w.bodies {
			if !b.alive || b.static {
				continue
			}
			if spin := b.body.AngularVelocity(); math.Abs(spin) > limit {
				b.body.SetAngularVelocity(math.Copysign(limit, spin))
			}
		}
	}
}

// Position reports the BodyDef origin of a dynamic body as it moved. Terrain
// sits at the world origin.
func (w *ReferenceWorld) Position(body BodyID) (Vec2, bool) {
	b, ok := w.body(body)
	if !ok {
		return Vec2{}, false
	}
	if b.static {
		return Vec2{}, true
	}
	return fromVec(b.body.Position()).Add(b.origin.Rotate(b.body.Angle())), true
}

func (w *ReferenceWorld) DestroyJoint(joint JointID) {
	if int(joint) < 0 || int(joint) >= len(w.joints) {
		return
	}
	j := w.joints[joint]
	if !j.alive {
		return
	}
	j.alive = false
	w.space.RemoveConstraint(j.constraint)
}

// DestroyBody removes the body and any joint still attached to it.
func (w *ReferenceWorld) DestroyBody(body BodyID) {
	b, ok := w.body(body)
	if !ok {
		return
	}
	for i, j := range w.joints {
		if j.alive && (j.a == body || j.b == body) {
			w.DestroyJoint(JointID(i))
		}
	}
	for _, s := range b.shapes {
		w.space.RemoveShape(s)
		delete(w.owner, s)
	}
	if !b.static {
		w.space.RemoveBody(b.body)
	}
	b.alive = false
}

// LiveBodies counts bodies that have not been destroyed, terrain included.
func (w *ReferenceWorld) LiveBodies() int {
	n := 0
	for _, b := range w.bodies {
		if b.alive {
			n++
		}
	}
	return n
}

func (w *ReferenceWorld) body(id BodyID) (*refBody, bool) {
	if int(id) < 0 || int(id) >= len(w.bodies) {
		return nil, false
	}
	b := w.bodies[id]
	return b, b.alive
}

func vec(v Vec2) cp.Vector { return cp.Vector{X: v.X, Y: v.Y} }

func fromVec(v cp.Vector) Vec2 { return Vec2{X: v.X, Y: v.Y} }
