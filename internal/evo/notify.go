package evo

import (
	"sync"
	"sync/atomic"
)

// GenerationCompleted is emitted once per evaluated generation.
type GenerationCompleted struct {
	Index     int
	BestScore float64
	Stats     GenerationStats
}

// EvolutionFinished is emitted once when a run ends, stopped or not.
type EvolutionFinished struct {
	Best        Individual
	Generations int
	Stopped     bool
}

type Listener interface {
	GenerationCompleted(GenerationCompleted)
	EvolutionFinished(EvolutionFinished)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnGeneration func(GenerationCompleted)
	OnFinished   func(EvolutionFinished)
}

func (l ListenerFuncs) GenerationCompleted(ev GenerationCompleted) {
	if l.OnGeneration != nil {
		l.OnGeneration(ev)
	}
}

func (l ListenerFuncs) EvolutionFinished(ev EvolutionFinished) {
	if l.OnFinished != nil {
		l.OnFinished(ev)
	}
}

// Notifier fans events out to its subscribers in subscription order. Having
// no subscribers is fine.
type Notifier struct {
	mu        sync.RWMutex
	nextID    int
	listeners []subscription
}

type subscription struct {
	id       int
	listener Listener
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers l and returns a function that removes it again.
func (n *Notifier) Subscribe(l Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, subscription{id: id, listener: l})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, sub := range n.listeners {
			if sub.id == id {
				n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
				return
			}
		}
	}
}

func (n *Notifier) snapshot() []Listener {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Listener, len(n.listeners))
	for i, sub := range n.listeners {
		out[i] = sub.listener
	}
	return out
}

func (n *Notifier) generationCompleted(ev GenerationCompleted) {
	for _, l := range n.snapshot() {
		l.GenerationCompleted(ev)
	}
}

func (n *Notifier) evolutionFinished(ev EvolutionFinished) {
	for _, l := range n.snapshot() {
		l.EvolutionFinished(ev)
	}
}

// Event is either a GenerationCompleted or an EvolutionFinished.
type Event any

// ChannelListener queues events on a bounded channel. When the queue is full
// the event is dropped and counted rather than blocking the run.
type ChannelListener struct {
	C       chan Event
	dropped atomic.Int64
}

func NewChannelListener(buffer int) *ChannelListener {
	return &ChannelListener{C: make(chan Event, buffer)}
}

func (l *ChannelListener) GenerationCompleted(ev GenerationCompleted) {
	l.send(ev)
}

func (l *ChannelListener) EvolutionFinished(ev EvolutionFinished) {
	l.send(ev)
}

func (l *ChannelListener) Dropped() int64 {
	return l.dropped.Load()
}

func (l *ChannelListener) send(ev Event) {
	select {
	case l.C <- ev:
	default:
		l.dropped.Add(1)
	}
}
