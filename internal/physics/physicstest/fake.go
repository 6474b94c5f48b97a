// Package physicstest provides a scripted physics.World for tests.
package physicstest

import (
	"fmt"

	"github.com/calvinloveland/vroomon/internal/physics"
)

// Body is the fake's view of one created body.
type Body struct {
	ID           physics.BodyID
	Def          physics.BodyDef
	Terrain      bool
	Alive        bool
	Group        physics.Group
	CollidesWith physics.Group
	Pos          physics.Vec2
	Vel          physics.Vec2
	Spin         float64
	Torque       float64
	Thrust       physics.Vec2

	// root is the body this one is rigidly carried by after a pivot, or -1.
	root   physics.BodyID
	offset physics.Vec2
}

// Ray is one RayCast call.
type Ray struct {
	From, To physics.Vec2
	Mask     physics.Group
}

type Joint struct {
	ID    physics.JointID
	A, B  physics.BodyID
	Alive bool
}

// World applies impulses as velocity changes on unit mass and moves bodies
// in straight lines. Pivoted bodies ride along with their first body, so
// impulses on a wheel move the whole vehicle.
type World struct {
	Bodies []*Body
	Joints []*Joint
	Rays   []Ray
	Steps  int

	// Grounded makes downward ray casts hit the terrain.
	Grounded bool
	// FallPerStep lowers every free body each step when not grounded.
	FallPerStep float64
	// FailCreateBodyAt makes the nth CreateBody call fail (1-based). Zero
	// disables it.
	FailCreateBodyAt int
	// OnStep runs at the start of every Step.
	OnStep func()

	createCalls int
	order       []string
}

var _ physics.World = (*World)(nil)

func NewWorld(grounded bool) *World {
	return &World{Grounded: grounded}
}

// Factory returns a factory that hands out worlds built by fn and remembers
// them in the order they were created.
func Factory(fn func() *World) (physics.WorldFactory, *[]*World) {
	worlds := new([]*World)
	return physics.WorldFactoryFunc(func() (physics.World, error) {
		w := fn()
		*worlds = append(*worlds, w)
		return w, nil
	}), worlds
}

func (w *World) CreateBody(def physics.BodyDef) (physics.BodyID, error) {
	w.createCalls++
	if w.FailCreateBodyAt > 0 && w.createCalls == w.FailCreateBodyAt {
		return 0, fmt.Errorf("%w: scripted failure", physics.ErrInvalidBody)
	}
	if def.Mass <= 0 || len(def.Shapes) == 0 {
		return 0, fmt.Errorf("%w: mass=%f shapes=%d", physics.ErrInvalidBody, def.Mass, len(def.Shapes))
	}
	id := physics.BodyID(len(w.Bodies))
	w.Bodies = append(w.Bodies, &Body{
		ID:           id,
		Def:          def,
		Alive:        true,
		CollidesWith: physics.TerrainGroup,
		Pos:          def.Position,
		root:         -1,
	})
	w.order = append(w.order, fmt.Sprintf("body:%d", id))
	return id, nil
}

func (w *World) CreateTerrain(t physics.Terrain) (physics.BodyID, error) {
	if len(t.Points) < 2 {
		return 0, fmt.Errorf("%w: terrain needs two points", physics.ErrInvalidBody)
	}
	id := physics.BodyID(len(w.Bodies))
	w.Bodies = append(w.Bodies, &Body{ID: id, Terrain: true, Alive: true, Group: physics.TerrainGroup, root: -1})
	return id, nil
}

func (w *World) CreatePivot(a, b physics.BodyID, anchor physics.Vec2) (physics.JointID, error) {
	ba, ok := w.live(a)
	if !ok {
		return 0, fmt.Errorf("%w: %d", physics.ErrUnknownBody, a)
	}
	bb, ok := w.live(b)
	if !ok {
		return 0, fmt.Errorf("%w: %d", physics.ErrUnknownBody, b)
	}
	if a == b {
		return 0, fmt.Errorf("%w: pivot needs two bodies", physics.ErrInvalidJoint)
	}
	root := w.rootOf(ba)
	bb.root = root.ID
	bb.offset = bb.Pos.Sub(root.Pos)
	id := physics.JointID(len(w.Joints))
	w.Joints = append(w.Joints, &Joint{ID: id, A: a, B: b, Alive: true})
	w.order = append(w.order, fmt.Sprintf("joint:%d", id))
	return id, nil
}

func (w *World) SetCollisionGroup(body physics.BodyID, group, collidesWith physics.Group) error {
	b, ok := w.live(body)
	if !ok {
		return fmt.Errorf("%w: %d", physics.ErrUnknownBody, body)
	}
	b.Group = group
	b.CollidesWith = collidesWith
	return nil
}

func (w *World) ApplyTorqueImpulse(body physics.BodyID, impulse float64) {
	if b, ok := w.live(body); ok {
		b.Spin += impulse
		b.Torque += impulse
	}
}

func (w *World) ApplyLinearImpulse(body physics.BodyID, impulse physics.Vec2) {
	if b, ok := w.live(body); ok {
		b.Thrust = b.Thrust.Add(impulse)
		root := w.rootOf(b)
		root.Vel = root.Vel.Add(impulse)
	}
}

func (w *World) RayCast(from, to physics.Vec2, mask physics.Group) (physics.BodyID, bool) {
	w.Rays = append(w.Rays, Ray{From: from, To: to, Mask: mask})
	if !w.Grounded || mask != physics.TerrainGroup || to.Y >= from.Y {
		return -1, false
	}
	for _, b := range w.Bodies {
		if b.Terrain && b.Alive {
			return b.ID, true
		}
	}
	return -1, false
}

func (w *World) Step(dt float64) {
	if w.OnStep != nil {
		w.OnStep()
	}
	w.Steps++
	for _, b := range w.Bodies {
		if !b.Alive || b.Terrain || b.root >= 0 {
			continue
		}
		b.Pos = b.Pos.Add(b.Vel.Scale(dt))
		if !w.Grounded {
			b.Pos.Y -= w.FallPerStep
		}
	}
	for _, b := range w.Bodies {
		if b.Alive && b.root >= 0 {
			b.Pos = w.rootOf(b).Pos.Add(b.offset)
		}
	}
}

func (w *World) Position(body physics.BodyID) (physics.Vec2, bool) {
	b, ok := w.live(body)
	if !ok {
		return physics.Vec2{}, false
	}
	return b.Pos, true
}

func (w *World) DestroyJoint(joint physics.JointID) {
	if int(joint) < 0 || int(joint) >= len(w.Joints) || !w.Joints[joint].Alive {
		return
	}
	w.Joints[joint].Alive = false
	w.order = append(w.order, fmt.Sprintf("destroy-joint:%d", joint))
}

func (w *World) DestroyBody(body physics.BodyID) {
	b, ok := w.live(body)
	if !ok {
		return
	}
	b.Alive = false
	w.order = append(w.order, fmt.Sprintf("destroy-body:%d", body))
}

// LiveDynamicBodies counts bodies that are neither terrain nor destroyed.
func (w *World) LiveDynamicBodies() int {
	n := 0
	for _, b := range w.Bodies {
		if b.Alive && !b.Terrain {
			n++
		}
	}
	return n
}

func (w *World) LiveJoints() int {
	n := 0
	for _, j := range w.Joints {
		if j.Alive {
			n++
		}
	}
	return n
}

// Log lists creations and destructions in call order.
func (w *World) Log() []string {
	return append([]string(nil), w.order...)
}

func (w *World) live(id physics.BodyID) (*Body, bool) {
	if int(id) < 0 || int(id) >= len(w.Bodies) {
		return nil, false
	}
	b := w.Bodies[id]
	return b, b.Alive
}

func (w *World) rootOf(b *Body) *Body {
	for b.root >= 0 {
		b = w.Bodies[b.root]
	}
	return b
}
