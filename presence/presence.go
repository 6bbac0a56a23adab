// Package presence tracks the assistant's visible state. It is a projection
// of what the capture and playback subsystems are doing; it never drives
// them.
package presence

import (
	"sync"
	"time"
)

type State int

const (
	Sleeping State = iota
	Idle
	Listening
	Speaking
)

func (s State) String() string {
	switch s {
	case Sleeping:
		return "sleeping"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	default:
		return "idle"
	}
}

// Animation is a transient overlay on top of the state. It expires on its
// own and does not interact with state transitions.
type Animation string

const (
	None     Animation = ""
	Waving   Animation = "waving"
	Bouncing Animation = "bouncing"
	Spinning Animation = "spinning"
)

// Snapshot is what observers receive on every change.
type Snapshot struct {
	State     State
	Animation Animation
}

type Controller struct {
	mu        sync.Mutex
	state     State
	anim      Animation
	animTimer *time.Timer
	animTTL   time.Duration
	observers []func(Snapshot)
}

func New() *Controller {
	return &Controller{state: Sleeping, animTTL: time.Second}
}

// SetAnimationTTL overrides how long a transient animation stays applied.
func (c *Controller) SetAnimationTTL(d time.Duration) {
	c.mu.Lock()
	c.animTTL = d
	c.mu.Unlock()
}

func (c *Controller) Subscribe(fn func(Snapshot)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) CurrentAnimation() Animation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anim
}

// Wake moves the assistant out of sleep.
func (c *Controller) Wake() {
	c.transition(func(s State) State {
		if s == Sleeping {
			return Idle
		}
		return s
	})
}

func (c *Controller) Sleep() {
	c.transition(func(State) State { return Sleeping })
}

// SetSpeaking marks the assistant as speaking. Speaking and listening are
// mutually exclusive; entering either clears the other.
func (c *Controller) SetSpeaking(on bool) {
	c.transition(func(s State) State {
		if on {
			return Speaking
		}
		if s == Speaking {
			return Idle
		}
		return s
	})
}

func (c *Controller) SetListening(on bool) {
	c.transition(func(s State) State {
		if on {
			return Listening
		}
		if s == Listening {
			return Idle
		}
		return s
	})
}

// Animate applies a transient overlay, replacing any current one, and
// schedules its own removal.
func (c *Controller) Animate(a Animation) {
	c.mu.Lock()
	if c.animTimer != nil {
		c.animTimer.Stop()
	}
	c.anim = a
	ttl := c.animTTL
	c.animTimer = time.AfterFunc(ttl, func() {
		c.mu.Lock()
		if c.anim != a {
			c.mu.Unlock()
			return
		}
		c.anim = None
		snap := Snapshot{State: c.state, Animation: c.anim}
		obs := append([]func(Snapshot){}, c.observers...)
		c.mu.Unlock()
		for _, fn := range obs {
			fn(snap)
		}
	})
	snap := Snapshot{State: c.state, Animation: c.anim}
	obs := append([]func(Snapshot){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range obs {
		fn(snap)
	}
}

func (c *Controller) transition(next func(State) State) {
	c.mu.Lock()
	s := next(c.state)
	if s == c.state {
		c.mu.Unlock()
		return
	}
	c.state = s
	snap := Snapshot{State: c.state, Animation: c.anim}
	obs := append([]func(Snapshot){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range obs {
		fn(snap)
	}
}
